// Package media issues credentials for the external real-time media SDK
// and checks that it is reachable.
package media

import (
	"context"
	"time"

	"github.com/adwski/blinddate/backend/metrics"
	"github.com/adwski/blinddate/backend/model"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// TokenIssuer mints LiveKit access tokens scoped to one call channel.
type TokenIssuer struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenIssuer(cfg Config) *TokenIssuer {
	return &TokenIssuer{
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		ttl:       cfg.TokenTTL,
		now:       time.Now,
	}
}

// Issue returns credentials that let identity join channel.
func (ti *TokenIssuer) Issue(channel, identity string) (model.MediaCredentials, error) {
	start := ti.now()
	defer func() {
		metrics.CredentialIssueDuration.Observe(time.Since(start).Seconds())
	}()

	canPublish := true
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(ti.apiKey, ti.apiSecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:       true,
		Room:           channel,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}).
		SetIdentity(identity).
		SetValidFor(ti.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return model.MediaCredentials{}, err
	}
	return model.MediaCredentials{
		AppID:     ti.apiKey,
		URL:       ti.url,
		Channel:   channel,
		Token:     token,
		ExpiresAt: start.Add(ti.ttl).Unix(),
	}, nil
}

// Checker probes the media server API.
type Checker struct {
	client *lksdk.RoomServiceClient
}

func NewChecker(cfg Config) *Checker {
	return &Checker{
		client: lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
}

func (c *Checker) Ping(ctx context.Context) error {
	_, err := c.client.ListRooms(ctx, &livekit.ListRoomsRequest{})
	return err
}
