package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"chamberworks.ai/internal/persistence/objmirror"
)

// buildMirror returns the object-storage mirror for dataDir, or nil when
// CW_MIRROR is off.
func buildMirror(dataDir string, logger *log.Logger) (*objmirror.Mirror, error) {
	if !envBool("CW_MIRROR", false) {
		return nil, nil
	}
	endpoint := strings.TrimSpace(os.Getenv("CW_MIRROR_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("CW_MIRROR_BUCKET"))
	creds := objmirror.Credentials{
		AccessKeyID:     os.Getenv("CW_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("CW_MIRROR_SECRET_ACCESS_KEY"),
	}
	client, err := objmirror.NewClient(endpoint, bucket, os.Getenv("CW_MIRROR_REGION"), creds)
	if err != nil {
		return nil, fmt.Errorf("CW_MIRROR=true: %w", err)
	}
	workers := envInt("CW_MIRROR_WORKERS", 2)
	return objmirror.NewMirror(client, dataDir, os.Getenv("CW_MIRROR_PREFIX"), workers, 256, logger), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
