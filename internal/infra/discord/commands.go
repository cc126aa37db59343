package discord

import "github.com/bwmarrin/discordgo"

var minVolume = 0.0

// commands are the slash commands registered on startup.
var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Play a song from a YouTube or Spotify URL",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "The YouTube or Spotify URL",
				Required:    true,
			},
		},
	},
	{
		Name:        "queue",
		Description: "Show the songs waiting to be played",
	},
	{
		Name:        "pause",
		Description: "Pause the currently playing music",
	},
	{
		Name:        "resume",
		Description: "Resume the paused music",
	},
	{
		Name:        "stop",
		Description: "Stop the music and clear the queue",
	},
	{
		Name:        "skip",
		Description: "Skip to the next song",
	},
	{
		Name:        "leave",
		Description: "Make the bot leave the voice channel",
	},
	{
		Name:        "volume",
		Description: "Set the volume of the music playback",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "volume",
				Description: "The volume level (0-100)",
				Required:    true,
				MinValue:    &minVolume,
				MaxValue:    100,
			},
		},
	},
	{
		Name:        "progress",
		Description: "Display the progress of the currently playing song",
	},
}
