package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const DEV_ENV_FILENAME = ".env.development"
const PROD_ENV_FILENAME = ".env.production"

// InitEnvironmentVariables loads the .env file for the given environment from
// projectDir. Production deployments that inject environment variables
// directly may not ship a .env file at all, so a missing file is not an error.
func InitEnvironmentVariables(projectDir, goEnv string) error {
	envFile := filepath.Join(projectDir, DEV_ENV_FILENAME)
	if goEnv == "production" {
		envFile = filepath.Join(projectDir, PROD_ENV_FILENAME)
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		log.Infof("no %s file found, using process environment", envFile)
		return nil
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s file: %v", envFile, err)
	}

	return nil
}
