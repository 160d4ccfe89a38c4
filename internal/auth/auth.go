package auth

import (
	"context"
	"fmt"
	"os"

	infisical "github.com/infisical/go-sdk"
)

const (
	infisicalSiteURL = "https://app.infisical.com"
	projectID        = "e7c1a5f2-3b64-4a09-9d52-8f10c2b6d913"
)

func InitializeInfisical(ctx context.Context) (infisical.InfisicalClientInterface, error) {
	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          infisicalSiteURL,
		AutoTokenRefresh: true,
		SilentMode:       true,
	})

	_, err := client.Auth().UniversalAuthLogin(
		os.Getenv("PATCHRUN_INFISICAL_CLIENT_ID"),
		os.Getenv("PATCHRUN_INFISICAL_CLIENT_SECRET"),
	)
	return client, err
}

// GetMaintenancePassword resolves the SQL credential used for every
// database connection in the run. PATCHRUN_SQL_PASSWORD wins when set, so
// air-gapped environments can skip Infisical entirely.
func GetMaintenancePassword(ctx context.Context) (string, error) {
	if password := os.Getenv("PATCHRUN_SQL_PASSWORD"); password != "" {
		return password, nil
	}

	client, err := InitializeInfisical(ctx)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %v", err)
	}

	secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   "MAINTENANCE_SQL_PASSWORD",
		Environment: "prod",
		ProjectID:   projectID,
		SecretPath:  "/",
	})
	if err != nil {
		return "", fmt.Errorf("error retrieving secret: %v", err)
	}

	return secret.SecretValue, nil
}
