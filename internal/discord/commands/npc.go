// Package commands implements the bot's slash commands.
package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/bubbletalk/internal/conversation"
	"github.com/MrWong99/bubbletalk/internal/discord"
)

// maxChoices is Discord's limit on autocomplete choices.
const maxChoices = 25

// Directory looks up the interpreters being served.
type Directory interface {
	Interpreter(speaker string) (*conversation.Interpreter, bool)
	Speakers() []string
}

// NPCCommands handles the /npc command group.
type NPCCommands struct {
	perms *discord.PermissionChecker
	npcs  Directory
}

// NewNPCCommands creates an NPCCommands handler.
func NewNPCCommands(perms *discord.PermissionChecker, npcs Directory) *NPCCommands {
	return &NPCCommands{perms: perms, npcs: npcs}
}

// Register registers the /npc subcommands with router.
func (nc *NPCCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("npc", nc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand, for example `/npc talk`.")
	})
	handlers := map[string]discord.HandlerFunc{
		"talk":     nc.withSpeaker(false, nc.talk),
		"interact": nc.withSpeaker(false, nc.interact),
		"skip":     nc.withSpeaker(false, nc.skip),
		"leave":    nc.withSpeaker(false, nc.leave),
		"status":   nc.withSpeaker(false, nc.status),
		"nearby":   nc.withSpeaker(true, nc.nearby),
		"reset":    nc.withSpeaker(true, nc.reset),
	}
	for name, h := range handlers {
		router.RegisterHandler("npc/"+name, h)
		router.RegisterAutocomplete("npc/"+name, nc.autocomplete)
	}
	router.RegisterHandler("npc/list", nc.list)
}

func speakerOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:         "speaker",
		Description:  "NPC name",
		Type:         discordgo.ApplicationCommandOptionString,
		Required:     true,
		Autocomplete: true,
	}
}

func subcommand(name, description string, extra ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:        name,
		Description: description,
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Options:     append([]*discordgo.ApplicationCommandOption{speakerOption()}, extra...),
	}
}

// Definition returns the /npc command for Discord registration.
func (nc *NPCCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "npc",
		Description: "Talk to NPCs",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "list",
				Description: "List NPCs and whether they can be talked to",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			subcommand("talk", "Start a conversation"),
			subcommand("interact", "Start a conversation, or finish the line being typed"),
			subcommand("skip", "Finish the line being typed"),
			subcommand("leave", "Walk away mid-conversation"),
			subcommand("status", "Show what an NPC is doing"),
			subcommand("nearby", "Mark the player as in or out of range", &discordgo.ApplicationCommandOption{
				Name:        "in",
				Description: "Whether the player is in range",
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Required:    true,
			}),
			subcommand("reset", "Make an exhausted NPC talkable again", &discordgo.ApplicationCommandOption{
				Name:        "available",
				Description: "Availability to set (default true)",
				Type:        discordgo.ApplicationCommandOptionBoolean,
			}),
		},
	}
}

type speakerHandler func(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, opts map[string]*discordgo.ApplicationCommandInteractionDataOption)

// withSpeaker resolves the speaker option before calling h. Privileged
// handlers also require the operator role.
func (nc *NPCCommands) withSpeaker(privileged bool, h speakerHandler) discord.HandlerFunc {
	return func(r discord.Responder, i *discordgo.InteractionCreate) {
		if privileged && !nc.perms.IsOperator(i) {
			discord.RespondEphemeral(r, i, "You need the operator role for this command.")
			return
		}
		opts := subOptions(i)
		speaker := ""
		if o, ok := opts["speaker"]; ok {
			speaker = o.StringValue()
		}
		in, ok := nc.npcs.Interpreter(speaker)
		if !ok {
			discord.RespondEphemeral(r, i, fmt.Sprintf("Unknown NPC %q.", speaker))
			return
		}
		h(r, i, in, opts)
	}
}

// subOptions returns the options of the invoked subcommand by name.
func subOptions(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return out
	}
	for _, o := range data.Options[0].Options {
		out[o.Name] = o
	}
	return out
}

func (nc *NPCCommands) list(r discord.Responder, i *discordgo.InteractionCreate) {
	speakers := nc.npcs.Speakers()
	if len(speakers) == 0 {
		discord.RespondEphemeral(r, i, "No NPCs are being served.")
		return
	}
	var b strings.Builder
	for _, s := range speakers {
		in, ok := nc.npcs.Interpreter(s)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s **%s**: %s\n", statusIcon(in.Status()), s, describe(in.Status()))
	}
	discord.RespondEphemeral(r, i, b.String())
}

func (nc *NPCCommands) talk(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, _ map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !in.StartConversation() {
		discord.RespondEphemeral(r, i, fmt.Sprintf("**%s** can't talk right now (%s).", in.Speaker(), describe(in.Status())))
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("**%s** starts talking.", in.Speaker()))
}

func (nc *NPCCommands) interact(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, _ map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	switch in.Interact() {
	case conversation.ActionStarted:
		discord.RespondEphemeral(r, i, fmt.Sprintf("**%s** starts talking.", in.Speaker()))
	case conversation.ActionSkipped:
		discord.RespondEphemeral(r, i, "Skipped to the end of the line.")
	default:
		discord.RespondEphemeral(r, i, "Nothing happens.")
	}
}

func (nc *NPCCommands) skip(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, _ map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !in.RequestSkip() {
		discord.RespondEphemeral(r, i, "Nothing to skip.")
		return
	}
	discord.RespondEphemeral(r, i, "Skipped to the end of the line.")
}

func (nc *NPCCommands) leave(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, _ map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !in.NotifyPlayerDeparted() {
		discord.RespondEphemeral(r, i, fmt.Sprintf("You are not talking to **%s**.", in.Speaker()))
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("You walk away from **%s**.", in.Speaker()))
}

func (nc *NPCCommands) status(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, _ map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	st := in.Status()
	msg := fmt.Sprintf("%s **%s**: %s", statusIcon(st), in.Speaker(), describe(st))
	if out, ok := in.LastOutcome(); ok {
		msg += fmt.Sprintf("\nLast conversation: %s", out.Reason)
	}
	discord.RespondEphemeral(r, i, msg)
}

func (nc *NPCCommands) nearby(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	near := false
	if o, ok := opts["in"]; ok {
		near = o.BoolValue()
	}
	in.NotifyPlayerNearby(near)
	if near {
		discord.RespondEphemeral(r, i, fmt.Sprintf("Player is near **%s**.", in.Speaker()))
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("Player is away from **%s**.", in.Speaker()))
}

func (nc *NPCCommands) reset(r discord.Responder, i *discordgo.InteractionCreate, in *conversation.Interpreter, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	available := true
	if o, ok := opts["available"]; ok {
		available = o.BoolValue()
	}
	in.SetAvailable(available)
	discord.RespondEphemeral(r, i, fmt.Sprintf("**%s** is now %s.", in.Speaker(), describe(in.Status())))
}

func (nc *NPCCommands) autocomplete(r discord.Responder, i *discordgo.InteractionCreate) {
	prefix := ""
	if o, ok := subOptions(i)["speaker"]; ok && o.Focused {
		prefix = strings.ToLower(o.StringValue())
	}
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, s := range nc.npcs.Speakers() {
		if !strings.HasPrefix(strings.ToLower(s), prefix) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: s, Value: s})
		if len(choices) == maxChoices {
			break
		}
	}
	discord.RespondChoices(r, i, choices)
}

func statusIcon(st conversation.Status) string {
	switch {
	case st.Active:
		return "💬"
	case st.Available:
		return "🟢"
	default:
		return "⚪"
	}
}

func describe(st conversation.Status) string {
	switch {
	case st.Active:
		return "talking"
	case st.Available:
		return "available"
	default:
		return "not available"
	}
}
