package commands

import (
	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CommandManager holds the command set and handles registration with
// Discord.
type CommandManager struct {
	session       *session.Session
	applicationID discord.AppID
	logger        *zap.Logger
	commands      map[string]Command
}

// ManagerParams holds dependencies for NewCommandManager.
type ManagerParams struct {
	fx.In
	Session  *session.Session
	AppID    discord.AppID
	Logger   *zap.Logger
	Commands []Command `group:"commands"`
}

// NewCommandManager creates a CommandManager from the provided command set.
func NewCommandManager(params ManagerParams) *CommandManager {
	cmds := make(map[string]Command, len(params.Commands))
	for _, cmd := range params.Commands {
		cmds[cmd.Name()] = cmd
	}

	params.Logger.Info("Created command manager", zap.Int("commands", len(cmds)))

	return &CommandManager{
		session:       params.Session,
		applicationID: params.AppID,
		logger:        params.Logger,
		commands:      cmds,
	}
}

// Get retrieves a command by name.
func (cm *CommandManager) Get(name string) (Command, bool) {
	cmd, ok := cm.commands[name]

	return cmd, ok
}

// RegisterCommands bulk-overwrites the command set for each guild.
func (cm *CommandManager) RegisterCommands(guildIDs []discord.GuildID) {
	var cmds []api.CreateCommandData
	for _, cmd := range cm.commands {
		cmds = append(cmds, api.CreateCommandData{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Options:     cmd.Options(),
		})
	}

	if len(cmds) == 0 {
		cm.logger.Info("No commands to register")

		return
	}

	for _, guildID := range guildIDs {
		registered, err := cm.session.BulkOverwriteGuildCommands(cm.applicationID, guildID, cmds)
		if err != nil {
			cm.logger.Error("Failed to bulk overwrite commands for guild",
				zap.Error(err),
				zap.Stringer("guildID", guildID))

			continue
		}
		cm.logger.Info("Registered slash commands for guild",
			zap.Int("count", len(registered)),
			zap.Stringer("guildID", guildID))
	}
}

// UnregisterAllCommands removes the command set from each guild.
func (cm *CommandManager) UnregisterAllCommands(guildIDs []discord.GuildID) {
	for _, guildID := range guildIDs {
		if _, err := cm.session.BulkOverwriteGuildCommands(cm.applicationID, guildID, []api.CreateCommandData{}); err != nil {
			cm.logger.Error("Failed to unregister commands for guild",
				zap.Error(err),
				zap.Stringer("guildID", guildID))

			continue
		}
		cm.logger.Info("Unregistered slash commands for guild", zap.Stringer("guildID", guildID))
	}
}
