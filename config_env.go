package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
)

func loadDotEnv(path string, logger Logger) {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = path
	}
	if err := godotenv.Load(envFile); err != nil {
		if os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
			logger.Debug("dotenv file not loaded, using process environment", "path", envFile)
		}
	}
}

// loadAWSSecretsIntoEnv copies a JSON secret into the process environment.
// Existing variables win unless AWS_SECRETS_MANAGER_OVERWRITE=true.
func loadAWSSecretsIntoEnv(ctx context.Context, logger Logger) error {
	secretID := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID")
	if secretID == "" {
		return nil
	}

	versionStage := os.Getenv("AWS_SECRETS_MANAGER_VERSION_STAGE")
	if versionStage == "" {
		versionStage = "AWSCURRENT"
	}
	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := os.Getenv("AWS_SECRETS_MANAGER_REGION"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	output, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(versionStage),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string
	switch {
	case output.SecretString != nil:
		payload = *output.SecretString
	case len(output.SecretBinary) > 0:
		payload = string(output.SecretBinary)
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	kv := map[string]any{}
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return fmt.Errorf("parsing secret %s as JSON: %w", secretID, err)
	}

	applied := 0
	for key, val := range kv {
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return fmt.Errorf("setting env %s from secret: %w", key, err)
		}
		applied++
	}
	logger.Info("loaded secrets manager values", "secret", secretID, "applied", applied, "overwrite", overwrite)
	return nil
}
