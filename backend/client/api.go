// Package client is a Go client for the realtime endpoint and the HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adwski/blinddate/backend/match"
	"github.com/adwski/blinddate/backend/model"
	apiServer "github.com/adwski/blinddate/backend/server/http"
	"github.com/go-resty/resty/v2"
)

const defaultAPITimeout = 10 * time.Second

var (
	ErrRequest  = errors.New("api request failed")
	ErrConflict = errors.New("api rejected the request as conflicting")
)

// API calls the request/response endpoints.
type API struct {
	http *resty.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(defaultAPITimeout),
	}
}

func (a *API) AcceptMatch(ctx context.Context, myID, targetID, room string) (bool, error) {
	var out apiServer.AcceptMatchResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(apiServer.AcceptMatchRequest{MyID: myID, TargetID: targetID, Room: room}).
		SetResult(&out).
		SetError(&apiServer.GenericResponse{}).
		Post("/api/accept-match")
	if err = check(resp, err); err != nil {
		return false, err
	}
	return out.IsMutual, nil
}

// GetMatch reports match.ErrNotFound while the match does not exist,
// so API can back a match.Poller.
func (a *API) GetMatch(ctx context.Context, userA, userB string) (model.Match, error) {
	var out apiServer.MatchResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"userA": userA, "userB": userB}).
		SetResult(&out).
		SetError(&apiServer.GenericResponse{}).
		Get("/api/matches/{userA}/{userB}")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return model.Match{}, match.ErrNotFound
	}
	if err = check(resp, err); err != nil {
		return model.Match{}, err
	}
	return out.Match, nil
}

func (a *API) RequestCall(ctx context.Context, callerID, calleeID string, kind model.CallKind) (model.Call, model.MediaCredentials, error) {
	var out apiServer.CallResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(apiServer.CallRequest{CallerID: callerID, CalleeID: calleeID, Kind: kind}).
		SetResult(&out).
		SetError(&apiServer.GenericResponse{}).
		Post("/api/calls")
	if err = check(resp, err); err != nil {
		return model.Call{}, model.MediaCredentials{}, err
	}
	if out.Credentials == nil {
		return model.Call{}, model.MediaCredentials{}, fmt.Errorf("%w: response has no credentials", ErrRequest)
	}
	return out.Call, *out.Credentials, nil
}

func (a *API) Answer(ctx context.Context, callID, userID string) (model.Call, error) {
	return a.resolve(ctx, callID, userID, "answer")
}

func (a *API) Reject(ctx context.Context, callID, userID string) (model.Call, error) {
	return a.resolve(ctx, callID, userID, "reject")
}

func (a *API) resolve(ctx context.Context, callID, userID, action string) (model.Call, error) {
	var out apiServer.CallResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"callID": callID, "action": action}).
		SetBody(apiServer.ResolveCallRequest{UserID: userID}).
		SetResult(&out).
		SetError(&apiServer.GenericResponse{}).
		Post("/api/calls/{callID}/{action}")
	if err = check(resp, err); err != nil {
		return model.Call{}, err
	}
	return out.Call, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Join(ErrRequest, err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if body, ok := resp.Error().(*apiServer.GenericResponse); ok && body.Error != "" {
		msg = body.Error
	}
	if resp.StatusCode() == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return fmt.Errorf("%w (%d): %s", ErrRequest, resp.StatusCode(), msg)
}
