// Package auth produces authenticated HTTP clients for the calendar provider.
// It supports interactive OAuth (browser flow with a locally cached token)
// and service accounts for headless use.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

// CredentialType represents the type of authentication credentials.
type CredentialType int

const (
	CredentialTypeUnknown CredentialType = iota
	CredentialTypeOAuthClient
	CredentialTypeServiceAccount
)

func (t CredentialType) String() string {
	switch t {
	case CredentialTypeOAuthClient:
		return "OAuth Client"
	case CredentialTypeServiceAccount:
		return "Service Account"
	default:
		return "Unknown"
	}
}

// DetectCredentialType examines the JSON structure to determine credential type.
func DetectCredentialType(data []byte) (CredentialType, error) {
	var check map[string]interface{}
	if err := json.Unmarshal(data, &check); err != nil {
		return CredentialTypeUnknown, fmt.Errorf("failed to parse credential file: %w", err)
	}

	if typ, ok := check["type"].(string); ok && typ == "service_account" {
		return CredentialTypeServiceAccount, nil
	}
	if _, ok := check["installed"]; ok {
		return CredentialTypeOAuthClient, nil
	}
	if _, ok := check["web"]; ok {
		return CredentialTypeOAuthClient, nil
	}

	return CredentialTypeUnknown, fmt.Errorf("unknown credential type")
}

// GetClient returns an authenticated HTTP client for the provider API,
// dispatching on the credential file's type.
func GetClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	credType, err := DetectCredentialType(data)
	if err != nil {
		return nil, err
	}

	switch credType {
	case CredentialTypeServiceAccount:
		config, err := google.JWTConfigFromJSON(data, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		// Service accounts generate tokens on demand; no refresh needed.
		return config.Client(ctx), nil
	case CredentialTypeOAuthClient:
		config, err := google.ConfigFromJSON(data, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
		}
		return getOAuthClient(ctx, config, tokenPath)
	default:
		return nil, fmt.Errorf("unsupported credential type")
	}
}

func getOAuthClient(ctx context.Context, config *oauth2.Config, tokenPath string) (*http.Client, error) {
	tok, err := LoadToken(tokenPath)
	if err == nil {
		return config.Client(ctx, tok), nil
	}

	tok, err = GetTokenFromWeb(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to get token from web: %w", err)
	}

	if err := SaveToken(tokenPath, tok); err != nil {
		return nil, fmt.Errorf("unable to save token: %w", err)
	}

	return config.Client(ctx, tok), nil
}
