package session

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the session service over Connect with the JSON codec
type Client struct {
	createSession *connect.Client[CreateSessionRPCRequest, CreateSessionRPCResponse]
	joinByPin     *connect.Client[JoinByPinRPCRequest, JoinByPinRPCResponse]
	getSession    *connect.Client[GetSessionRPCRequest, GetSessionRPCResponse]
	leave         *connect.Client[ParticipantRPCRequest, EmptyRPCResponse]
	kick          *connect.Client[ParticipantRPCRequest, EmptyRPCResponse]
	startGame     *connect.Client[StartGameRPCRequest, StartGameRPCResponse]
	finishGame    *connect.Client[FinishGameRPCRequest, FinishGameRPCResponse]
	updateScore   *connect.Client[UpdateScoreRPCRequest, UpdateScoreRPCResponse]
	deleteSession *connect.Client[DeleteSessionRPCRequest, EmptyRPCResponse]
	token         string
}

// NewClient builds a client for the service at baseURL. token, when set, is sent as
// a bearer credential on every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &Client{
		createSession: connect.NewClient[CreateSessionRPCRequest, CreateSessionRPCResponse](httpClient, baseURL+CreateSessionProcedure, opts...),
		joinByPin:     connect.NewClient[JoinByPinRPCRequest, JoinByPinRPCResponse](httpClient, baseURL+JoinByPinProcedure, opts...),
		getSession:    connect.NewClient[GetSessionRPCRequest, GetSessionRPCResponse](httpClient, baseURL+GetSessionProcedure, opts...),
		leave:         connect.NewClient[ParticipantRPCRequest, EmptyRPCResponse](httpClient, baseURL+LeaveProcedure, opts...),
		kick:          connect.NewClient[ParticipantRPCRequest, EmptyRPCResponse](httpClient, baseURL+KickProcedure, opts...),
		startGame:     connect.NewClient[StartGameRPCRequest, StartGameRPCResponse](httpClient, baseURL+StartGameProcedure, opts...),
		finishGame:    connect.NewClient[FinishGameRPCRequest, FinishGameRPCResponse](httpClient, baseURL+FinishGameProcedure, opts...),
		updateScore:   connect.NewClient[UpdateScoreRPCRequest, UpdateScoreRPCResponse](httpClient, baseURL+UpdateScoreProcedure, opts...),
		deleteSession: connect.NewClient[DeleteSessionRPCRequest, EmptyRPCResponse](httpClient, baseURL+DeleteSessionProcedure, opts...),
		token:         token,
	}
}

func request[T any](token string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	return req
}

func (c *Client) CreateSession(ctx context.Context, msg *CreateSessionRPCRequest) (*CreateSessionRPCResponse, error) {
	resp, err := c.createSession.CallUnary(ctx, request(c.token, msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) JoinByPin(ctx context.Context, msg *JoinByPinRPCRequest) (*JoinByPinRPCResponse, error) {
	resp, err := c.joinByPin.CallUnary(ctx, request(c.token, msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) GetSession(ctx context.Context, msg *GetSessionRPCRequest) (*GetSessionRPCResponse, error) {
	resp, err := c.getSession.CallUnary(ctx, request(c.token, msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Leave(ctx context.Context, msg *ParticipantRPCRequest) error {
	_, err := c.leave.CallUnary(ctx, request(c.token, msg))
	return err
}

func (c *Client) Kick(ctx context.Context, msg *ParticipantRPCRequest) error {
	_, err := c.kick.CallUnary(ctx, request(c.token, msg))
	return err
}

func (c *Client) StartGame(ctx context.Context, msg *StartGameRPCRequest) (*StartGameRPCResponse, error) {
	resp, err := c.startGame.CallUnary(ctx, request(c.token, msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) FinishGame(ctx context.Context, msg *FinishGameRPCRequest) (*FinishGameRPCResponse, error) {
	resp, err := c.finishGame.CallUnary(ctx, request(c.token, msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) UpdateScore(ctx context.Context, msg *UpdateScoreRPCRequest) (*UpdateScoreRPCResponse, error) {
	resp, err := c.updateScore.CallUnary(ctx, request(c.token, msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) DeleteSession(ctx context.Context, msg *DeleteSessionRPCRequest) error {
	_, err := c.deleteSession.CallUnary(ctx, request(c.token, msg))
	return err
}
