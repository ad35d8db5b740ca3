package integrations

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"linkit/pkg/httpclient"
	"linkit/services/registry"
)

const (
	channelGroup = "channelDetails"
	messageGroup = "messageDetails"
)

type discordMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

func (in *integrations) discord() definition {
	return definition{
		service: registry.Service{
			ID:            "discord",
			Name:          "Discord",
			Description:   "Messaging service for teams",
			LoginRequired: true,
			Image:         "https://discord.com/img/logo.png",
			Auth:          authInfo("discord"),
		},
		events: []registry.Event{
			{
				Type:        registry.Action,
				IDNode:      "newMessage",
				Name:        "New Message",
				Description: "Triggers when a new message is posted in a channel",
				FieldGroupTemplates: []registry.FieldGroup{
					group(channelGroup, "Channel Details", "Information about the Discord channel",
						field("channelId", registry.FieldString, "The channel ID"),
						optional(field("keyword", registry.FieldString, "Only trigger when the message contains this text")),
					),
				},
				Check: in.discordNewMessage,
			},
			{
				Type:        registry.Reaction,
				IDNode:      "sendMessage",
				Name:        "Send Message",
				Description: "Post a message in a channel",
				FieldGroupTemplates: []registry.FieldGroup{
					group(messageGroup, "Message Details", "The message to post",
						field("channelId", registry.FieldString, "The channel ID"),
						field("message", registry.FieldString, "The message content"),
					),
				},
				Execute: in.discordSendMessage,
			},
		},
	}
}

// botClient authenticates with the bot token. Channel access comes from the
// bot being a member of the guild, not from the user's OAuth grant.
func (in *integrations) botClient() (*httpclient.Client, error) {
	if in.DiscordBotToken == "" {
		return nil, errors.New("discord bot token is not configured")
	}
	return httpclient.New(
		httpclient.SetBaseURL(in.urls.Discord),
		httpclient.SetClientHeader("Authorization", "Bot "+in.DiscordBotToken),
	), nil
}

func (in *integrations) discordNewMessage(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	wc, err := registry.ContextFrom(params)
	if err != nil {
		return false, err
	}
	channelID, err := registry.RequireString(params, channelGroup, "channelId")
	if err != nil {
		return false, err
	}
	keyword, _ := registry.FindString(params, channelGroup, "keyword")

	client, err := in.botClient()
	if err != nil {
		return false, err
	}
	var messages []discordMessage
	if _, err := client.Get("/channels/"+channelID+"/messages",
		httpclient.SetContext(ctx),
		httpclient.SetQueryParam("limit", "1"),
		httpclient.SetResult(&messages),
	); err != nil {
		return false, err
	}
	if len(messages) == 0 {
		return false, nil
	}

	latest := messages[0]
	if !in.observe(markerKey("discord", wc.WorkflowID, channelID), latest.ID) {
		return false, nil
	}
	if keyword != "" && !strings.Contains(strings.ToLower(latest.Content), strings.ToLower(keyword)) {
		return false, nil
	}
	slog.Info("New Discord message", "workflow_id", wc.WorkflowID, "channel_id", channelID, "message_id", latest.ID)
	return true, nil
}

func (in *integrations) discordSendMessage(ctx context.Context, params []registry.FieldGroup) (any, error) {
	channelID, err := registry.RequireString(params, messageGroup, "channelId")
	if err != nil {
		return nil, err
	}
	content, err := registry.RequireString(params, messageGroup, "message")
	if err != nil {
		return nil, err
	}

	client, err := in.botClient()
	if err != nil {
		return nil, err
	}
	var sent discordMessage
	if _, err := client.Post("/channels/"+channelID+"/messages",
		httpclient.SetContext(ctx),
		httpclient.SetBody(map[string]string{"content": content}),
		httpclient.SetResult(&sent),
	); err != nil {
		return nil, err
	}
	return sent, nil
}
