package notify

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/farmbridge/farmbridge/internal/application/routing"
	"github.com/farmbridge/farmbridge/internal/domain/consultation"
)

// Notifier bridges router deliveries into stream messages. Each connected
// client gets one router subscription whose callback applies the policy and
// pushes allowed events to the hub.
type Notifier struct {
	router *routing.Router
	policy *Policy
	hub    StreamHub
	logger zerolog.Logger
}

func NewNotifier(router *routing.Router, policy *Policy, hub StreamHub, logger zerolog.Logger) *Notifier {
	return &Notifier{
		router: router,
		policy: policy,
		hub:    hub,
		logger: logger.With().Str("service", "notifier").Logger(),
	}
}

// AttachInput describes one client attachment.
type AttachInput struct {
	Client         *StreamClient
	Observer       Observer
	ConsultationID *string // optional: watch a single consultation
	FilterExpr     string  // optional govaluate expression
}

// Attach registers the client with the hub and subscribes it to the router.
// The returned handle must be passed to Detach when the connection drops.
func (n *Notifier) Attach(in AttachInput) (routing.Handle, error) {
	filter, err := routing.CompileFilter(in.FilterExpr)
	if err != nil {
		return routing.Handle{}, err
	}
	sub := routing.Subscription{
		ObserverID: in.Observer.ObserverID,
		UserID:     in.Observer.UserID,
		Role:       in.Observer.Role,
		Filter:     filter,
		Deliver:    n.delivery(in.Client.ClientID, in.Observer),
	}
	if in.ConsultationID != nil {
		id, err := uuid.Parse(*in.ConsultationID)
		if err != nil {
			return routing.Handle{}, err
		}
		sub.ConsultationID = &id
	}

	n.hub.Register(in.Client)
	handle := n.router.Subscribe(sub)
	n.logger.Info().
		Str("client_id", in.Client.ClientID).
		Str("role", string(in.Observer.Role)).
		Msg("stream client attached")
	return handle, nil
}

// Detach tears down the subscription and the hub client.
func (n *Notifier) Detach(handle routing.Handle, client *StreamClient, ob Observer) {
	n.router.Unsubscribe(handle)
	n.hub.Unregister(client)
	n.policy.Forget(ob.ObserverID)
	n.logger.Info().Str("client_id", client.ClientID).Msg("stream client detached")
}

func (n *Notifier) delivery(clientID string, ob Observer) routing.Delivery {
	return func(ev consultation.ChangeEvent) {
		if !n.policy.ShouldNotify(ev, ob) {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			n.logger.Warn().Err(err).Msg("failed to marshal change event")
			return
		}
		msg := NewMessage(eventName(ev), data)
		if err := n.hub.SendToClient(clientID, msg); err != nil {
			n.logger.Warn().
				Err(err).
				Str("client_id", clientID).
				Str("consultation_id", ev.Consultation.ConsultationID.String()).
				Msg("stream delivery failed")
		}
	}
}

func eventName(ev consultation.ChangeEvent) string {
	if ev.Type == consultation.EventInsert {
		return "consultation.created"
	}
	return "consultation." + string(ev.Consultation.Status)
}
