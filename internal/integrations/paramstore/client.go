package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads SecureString parameters from AWS SSM.
type Client struct {
	api ssmAPI
}

// ChannelCredentials is the JSON document stored for the messaging channel.
type ChannelCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	AuthToken string `json:"auth_token,omitempty"`
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// LoadChannelCredentials reads and decodes the credentials document stored at
// name. The API key and secret are required; the auth token is optional.
func (c *Client) LoadChannelCredentials(ctx context.Context, name string) (ChannelCredentials, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return ChannelCredentials{}, err
	}
	var creds ChannelCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return ChannelCredentials{}, fmt.Errorf("paramstore: unmarshal channel credentials: %w", err)
	}
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.APISecret) == "" {
		return ChannelCredentials{}, errors.New("paramstore: channel credentials missing api_key or api_secret")
	}
	return creds, nil
}
