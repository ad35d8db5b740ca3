package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"linkit/pkg/httpclient"
	"linkit/services/registry"
)

const emailDetailsGroup = "emailDetails"

// graphSubscriptionTTL is close to the maximum Graph allows for mail resources.
const graphSubscriptionTTL = 4230 * time.Minute

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID      string `json:"id,omitempty"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
	IsDraft      bool             `json:"isDraft,omitempty"`
}

type graphSubscription struct {
	ID                 string `json:"id,omitempty"`
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState"`
}

func (in *integrations) outlook() definition {
	details := []registry.FieldGroup{
		group(emailDetailsGroup, "Email Details", "Details of the email to be sent",
			field("recipientEmail", registry.FieldString, "Email address of the recipient"),
			field("subject", registry.FieldString, "Subject of the email"),
			field("message", registry.FieldString, "Body of the email"),
		),
	}
	return definition{
		service: registry.Service{
			ID:            "outlook",
			Name:          "Outlook Service",
			Description:   "Service to send emails",
			LoginRequired: true,
			Image:         "https://www.svgrepo.com/show/533194/mail-alt.svg",
			Auth:          authInfo("outlook"),
		},
		events: []registry.Event{
			{
				Type:                registry.Action,
				IDNode:              "monitorEmails",
				Name:                "Listen mailbox",
				Description:         "Monitor incoming emails",
				FieldGroupTemplates: []registry.FieldGroup{},
				Check:               in.outlookMonitorEmails,
			},
			{
				Type:                registry.Reaction,
				IDNode:              "sendEmail",
				Name:                "Send Email",
				Description:         "Send an email to a recipient using Outlook",
				FieldGroupTemplates: details,
				Execute:             in.outlookSendEmail,
			},
			{
				Type:                registry.Reaction,
				IDNode:              "createEmailDraft",
				Name:                "Create Email Draft",
				Description:         "Create a draft email in Outlook",
				FieldGroupTemplates: details,
				Execute:             in.outlookCreateDraft,
			},
		},
	}
}

func graphMessageFrom(params []registry.FieldGroup) (graphMessage, error) {
	var msg graphMessage
	recipient, err := registry.RequireString(params, emailDetailsGroup, "recipientEmail")
	if err != nil {
		return msg, err
	}
	if msg.Subject, err = registry.RequireString(params, emailDetailsGroup, "subject"); err != nil {
		return msg, err
	}
	if msg.Body.Content, err = registry.RequireString(params, emailDetailsGroup, "message"); err != nil {
		return msg, err
	}
	msg.Body.ContentType = "Text"
	var to graphRecipient
	to.EmailAddress.Address = recipient
	msg.ToRecipients = []graphRecipient{to}
	return msg, nil
}

func (in *integrations) outlookSendEmail(ctx context.Context, params []registry.FieldGroup) (any, error) {
	msg, err := graphMessageFrom(params)
	if err != nil {
		return nil, err
	}
	client, _, err := in.userClient(ctx, params, "outlook", in.urls.Graph)
	if err != nil {
		return nil, err
	}
	if _, err := client.Post("/me/sendMail",
		httpclient.SetContext(ctx),
		httpclient.SetBody(map[string]any{"message": msg}),
	); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	return msg, nil
}

func (in *integrations) outlookCreateDraft(ctx context.Context, params []registry.FieldGroup) (any, error) {
	msg, err := graphMessageFrom(params)
	if err != nil {
		return nil, err
	}
	msg.IsDraft = true
	client, _, err := in.userClient(ctx, params, "outlook", in.urls.Graph)
	if err != nil {
		return nil, err
	}
	var draft graphMessage
	if _, err := client.Post("/me/messages",
		httpclient.SetContext(ctx),
		httpclient.SetBody(msg),
		httpclient.SetResult(&draft),
	); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	return draft, nil
}

// outlookMonitorEmails makes sure a Graph subscription exists for the workflow.
// New mail arrives through the webhook handler, so the poll itself never fires.
func (in *integrations) outlookMonitorEmails(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	client, wc, err := in.userClient(ctx, params, "outlook", in.urls.Graph)
	if err != nil {
		return false, err
	}
	hook, err := in.ensureWebhook(ctx, wc, "outlook", "")
	if err != nil || hook == nil {
		return false, err
	}

	var sub graphSubscription
	_, err = client.Post("/subscriptions",
		httpclient.SetContext(ctx),
		httpclient.SetBody(graphSubscription{
			ChangeType:         "created",
			NotificationURL:    in.webhookURL("outlook", hook.ID),
			Resource:           "me/mailFolders('Inbox')/messages",
			ExpirationDateTime: in.Now().Add(graphSubscriptionTTL).UTC().Format(time.RFC3339),
			ClientState:        hook.ID,
		}),
		httpclient.SetResult(&sub),
	)
	if err != nil {
		in.dropWebhook(ctx, hook.ID)
		return false, fmt.Errorf("create graph subscription: %w", err)
	}
	if err := in.Webhooks.SetSubscription(ctx, hook.ID, sub.ID); err != nil {
		return false, err
	}
	slog.Info("Outlook subscription created", "workflow_id", wc.WorkflowID, "webhook_id", hook.ID, "subscription_id", sub.ID)
	return false, nil
}
