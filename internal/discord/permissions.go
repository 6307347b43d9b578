package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides whether a user may run privileged commands.
type PermissionChecker struct {
	roleID string
}

// NewPermissionChecker returns a checker for roleID. An empty roleID lets
// everyone through.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{roleID: roleID}
}

// IsOperator reports whether the interaction author holds the operator
// role. Interactions outside a guild have no member and are refused.
func (p *PermissionChecker) IsOperator(i *discordgo.InteractionCreate) bool {
	if p.roleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.roleID)
}
