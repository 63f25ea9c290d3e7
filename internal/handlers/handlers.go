// Package handlers provides the built-in serverbound packet handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luciancaetano/authoritative/internal/connection"
	"github.com/luciancaetano/authoritative/internal/packet"
	"github.com/luciancaetano/authoritative/internal/session"
)

// Deps are the collaborators shared by the handlers.
type Deps struct {
	Store         session.Store
	ServerVersion string
	// Environment is the server environment; anything but production is
	// reported to clients as development.
	Environment string
	Now         func() time.Time
}

type handlers struct {
	Deps
}

// New builds the default handler registry.
func New(deps Deps) (*connection.Registry, error) {
	if deps.Store == nil {
		return nil, errors.New("handlers: store is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{Deps: deps}

	return connection.NewRegistry(
		connection.Definition{Tag: packet.TagClientDeclaration, Handle: h.clientDeclaration},
		connection.Definition{Tag: packet.TagClientReady, Handle: h.clientReady},
	)
}

func (h *handlers) environment() packet.Environment {
	if h.Environment == string(packet.EnvironmentProduction) {
		return packet.EnvironmentProduction
	}
	return packet.EnvironmentDevelopment
}

// featureFlags enables every flag outside production.
func (h *handlers) featureFlags() []packet.FeatureFlag {
	if h.environment() == packet.EnvironmentProduction {
		return []packet.FeatureFlag{}
	}
	return []packet.FeatureFlag{packet.FeatureExperimental, packet.FeatureDebugMode}
}

func (h *handlers) clientDeclaration(ctx context.Context, msg packet.Message, c *connection.Connection) error {
	decl, ok := msg.Packet.(*packet.ClientDeclaration)
	if !ok {
		return fmt.Errorf("unexpected packet %T", msg.Packet)
	}
	if c.State() != connection.StateLogin {
		c.Logger().Debug("ignoring declaration outside login", "state", c.State())
		return nil
	}

	s, err := h.Store.SessionByAccessToken(ctx, decl.AccessToken)
	if errors.Is(err, session.ErrNotFound) {
		return c.Send(ctx, &packet.Error{Code: packet.ErrorInvalidAccessToken, Message: "Invalid access token."})
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if s.Expired(h.Now()) {
		return c.Send(ctx, &packet.Error{Code: packet.ErrorSessionExpired, Message: "Access token has expired."})
	}

	user, err := h.Store.UserByID(ctx, s.UserID)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", s.UserID, err)
	}

	if err := c.EnterPlay(ctx, user, s); err != nil {
		return err
	}
	return c.Send(ctx, &packet.Welcome{
		ServerVersion: h.ServerVersion,
		Environment:   h.environment(),
		FeatureFlags:  h.featureFlags(),
	})
}

func (h *handlers) clientReady(ctx context.Context, msg packet.Message, c *connection.Connection) error {
	player, ok := c.Player()
	if !ok {
		c.Logger().Debug("ignoring ready before authentication")
		return nil
	}
	if !c.MarkClientReady() {
		return c.Send(ctx, &packet.Error{Code: packet.ErrorClientAlreadyReady, Message: "Client is already ready."})
	}

	if player.User.Onboarded {
		return nil
	}
	if err := c.SetEnforcedState(ctx, packet.EnforcedCanHome, false); err != nil {
		return err
	}
	return c.Send(ctx, &packet.ForceScene{Scene: packet.SceneIntro})
}
