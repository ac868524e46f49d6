package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// SecretNames maps the venue credential fields to Secret Manager
// secret IDs. Zero-value fields fall back to the conventional names.
type SecretNames struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIKeyName string `mapstructure:"api_key_name"`
	PrivateKey string `mapstructure:"private_key"`
}

func (n SecretNames) withDefaults() SecretNames {
	if n.APIKey == "" {
		n.APIKey = "asterdex-api-key"
	}
	if n.APISecret == "" {
		n.APISecret = "asterdex-api-secret"
	}
	if n.APIKeyName == "" {
		n.APIKeyName = "asterdex-api-key-name"
	}
	if n.PrivateKey == "" {
		n.PrivateKey = "asterdex-private-key"
	}
	return n
}

// VenueCredentials is the credential set loaded from Secret Manager.
type VenueCredentials struct {
	APIKey        string
	APISecret     string
	APIKeyName    string
	PrivateKeyPEM string
}

// GCPSecretManager reads venue credentials from GCP Secret Manager.
type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP project ID is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

// LoadVenueCredentials fetches every named secret. The HMAC and JWT
// credential pairs are both optional individually; callers decide
// which pair their auth mode requires.
func (m *GCPSecretManager) LoadVenueCredentials(ctx context.Context, names SecretNames) (*VenueCredentials, error) {
	names = names.withDefaults()
	creds := &VenueCredentials{}

	fields := []struct {
		name string
		dst  *string
	}{
		{names.APIKey, &creds.APIKey},
		{names.APISecret, &creds.APISecret},
		{names.APIKeyName, &creds.APIKeyName},
		{names.PrivateKey, &creds.PrivateKeyPEM},
	}
	for _, f := range fields {
		value, err := m.getSecret(ctx, f.name)
		if err != nil {
			m.logger.WithError(err).WithField("secret", f.name).Debug("Secret not available")
			continue
		}
		*f.dst = value
	}

	if creds.APIKey == "" && creds.APIKeyName == "" {
		return nil, fmt.Errorf("no venue credentials found in project %s", m.projectID)
	}
	return creds, nil
}

func (m *GCPSecretManager) getSecret(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", m.projectID, name),
	}
	resp, err := m.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(resp.Payload.Data), nil
}

func (m *GCPSecretManager) Close() error {
	return m.client.Close()
}
