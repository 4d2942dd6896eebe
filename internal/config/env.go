package config

import "github.com/joho/godotenv"

// LoadDotEnv loads KEY=VALUE files (".env" when none are given) into the
// process environment. Variables already set are not overwritten and missing
// files are ignored.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}
