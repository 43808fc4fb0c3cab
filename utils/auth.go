package utils

import (
	"giveaway-bot/models"

	"github.com/bwmarrin/discordgo"
)

// Permission levels used by the command dispatcher.
const (
	LevelDeveloper = "developer"
	LevelAdmin     = "admin"
	LevelGuest     = "guest"
)

// Auth provides methods for authorization checks.
type Auth struct {
	config models.AuthConfig
}

// NewAuth creates a new Auth instance from the commands config.
func NewAuth(cfg models.CommandsConfig) *Auth {
	return &Auth{config: cfg.Auth}
}

// IsDeveloper checks if a user is a developer.
func (a *Auth) IsDeveloper(userID string) bool {
	for _, devID := range a.config.Developers {
		if userID == devID {
			return true
		}
	}
	return false
}

// IsAdmin checks if a member has a configured admin role or the Manage Server permission.
func (a *Auth) IsAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionManageGuild != 0 ||
		member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	for _, adminRoleID := range a.config.AdminsRoles {
		for _, userRoleID := range member.Roles {
			if userRoleID == adminRoleID {
				return true
			}
		}
	}
	return false
}

// CheckPermission checks if the invoking member has the required permission level.
// Interactions outside a guild (DMs) only pass guest checks.
func (a *Auth) CheckPermission(member *discordgo.Member, requiredLevel string) bool {
	if requiredLevel == LevelGuest {
		return true
	}
	if member == nil || member.User == nil {
		return false
	}

	switch requiredLevel {
	case LevelDeveloper:
		return a.IsDeveloper(member.User.ID)
	case LevelAdmin:
		return a.IsDeveloper(member.User.ID) || a.IsAdmin(member)
	default:
		return false
	}
}
