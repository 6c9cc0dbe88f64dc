// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
)

// Caddy's internal root certificate location inside the proxy container.
const caddyRootCertPath = "/data/caddy/pki/authorities/local/root.crt"

// Cert artifacts kept under .lo1 for idempotence.
const (
	CertFileName     = "caddy-root.crt"
	CertHashFileName = "caddy-root.crt.sha256"
)

// TLSError reports a failed trust installation step.
type TLSError struct {
	// Step names the failing step ("extract", "install", "hash").
	Step string

	// Wrapped is the underlying error.
	Wrapped error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls trust %s failed: %v", e.Step, e.Wrapped)
}

func (e *TLSError) Unwrap() error { return e.Wrapped }

var _ error = (*TLSError)(nil)

// TrustHelper extracts the proxy's root CA and installs it into the
// host trust store, keyed by content hash for idempotence.
type TrustHelper struct {
	// Proc executes docker and trust-store commands.
	Proc proc.Manager

	// WorkDir is the workspace .lo1 directory holding cert artifacts.
	WorkDir string

	// installPlatform overrides the platform trust install (tests).
	installPlatform func(ctx context.Context, certPath string) error
}

// NewTrustHelper creates a TrustHelper using the platform trust store.
func NewTrustHelper(pm proc.Manager, workDir string) *TrustHelper {
	return &TrustHelper{Proc: pm, WorkDir: workDir}
}

// TrustCaddyCA copies the root certificate out of the proxy container
// and installs it into the host trust store.
//
// # Description
//
// Idempotent via content hash: when the on-disk hash matches the
// in-container certificate, no trust operation is performed. Two
// consecutive calls on the same certificate perform exactly one host
// trust install.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - containerName: The proxy container (lo1-<workspace>-proxy)
func (h *TrustHelper) TrustCaddyCA(ctx context.Context, containerName string) error {
	certPath := filepath.Join(h.WorkDir, CertFileName)
	hashPath := filepath.Join(h.WorkDir, CertHashFileName)

	_, stderr, _, err := h.Proc.Run(ctx, "docker", "cp",
		containerName+":"+caddyRootCertPath, certPath)
	if err != nil {
		return &TLSError{Step: "extract", Wrapped: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))}
	}

	cert, err := os.ReadFile(certPath)
	if err != nil {
		return &TLSError{Step: "extract", Wrapped: err}
	}
	sum := sha256.Sum256(cert)
	hash := hex.EncodeToString(sum[:])

	if previous, err := os.ReadFile(hashPath); err == nil && strings.TrimSpace(string(previous)) == hash {
		return nil
	}

	install := h.installPlatform
	if install == nil {
		install = h.installPlatformTrust
	}
	if err := install(ctx, certPath); err != nil {
		return &TLSError{Step: "install", Wrapped: err}
	}

	if err := os.WriteFile(hashPath, []byte(hash+"\n"), 0640); err != nil {
		return &TLSError{Step: "hash", Wrapped: err}
	}
	return nil
}

// installPlatformTrust installs the certificate into the OS trust store.
func (h *TrustHelper) installPlatformTrust(ctx context.Context, certPath string) error {
	switch runtime.GOOS {
	case "darwin":
		_, stderr, _, err := h.Proc.Run(ctx, "sudo", "security", "add-trusted-cert",
			"-d", "-r", "trustRoot", "-k", "/Library/Keychains/System.keychain", certPath)
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		return nil
	case "linux":
		target := "/usr/local/share/ca-certificates/lo1-caddy-root.crt"
		if _, stderr, _, err := h.Proc.Run(ctx, "sudo", "cp", certPath, target); err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		if _, stderr, _, err := h.Proc.Run(ctx, "sudo", "update-ca-certificates"); err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		return nil
	case "windows":
		_, stderr, _, err := h.Proc.Run(ctx, "certutil", "-addstore", "-f", "Root", certPath)
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		return nil
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
