package patchbay

import "github.com/joho/godotenv"

// LoadEnv loads .env files into the process environment, where credential
// resolution finds API keys and the AWS signing tuple. With no arguments
// it loads ".env" from the working directory; missing files are not an
// error when no names are given explicitly.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		// No .env file is the common case in production.
		_ = godotenv.Load()
		return nil
	}
	return godotenv.Load(files...)
}
