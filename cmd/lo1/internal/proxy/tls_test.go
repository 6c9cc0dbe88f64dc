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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
)

// fakeDockerCp returns a RunFunc that materializes cert content when
// `docker cp` is invoked.
func fakeDockerCp(t *testing.T, cert string) func(context.Context, string, ...string) (string, string, int, error) {
	t.Helper()
	return func(_ context.Context, name string, args ...string) (string, string, int, error) {
		if name == "docker" && len(args) > 0 && args[0] == "cp" {
			dest := args[len(args)-1]
			require.NoError(t, os.WriteFile(dest, []byte(cert), 0640))
		}
		return "", "", 0, nil
	}
}

func TestTrustCaddyCA_InstallsOnce(t *testing.T) {
	dir := t.TempDir()
	mock := &proc.MockManager{RunFunc: fakeDockerCp(t, "CERT-A")}

	installs := 0
	helper := NewTrustHelper(mock, dir)
	helper.installPlatform = func(_ context.Context, certPath string) error {
		installs++
		assert.Equal(t, filepath.Join(dir, CertFileName), certPath)
		return nil
	}

	require.NoError(t, helper.TrustCaddyCA(context.Background(), "lo1-shop-proxy"))
	require.NoError(t, helper.TrustCaddyCA(context.Background(), "lo1-shop-proxy"))

	assert.Equal(t, 1, installs, "identical cert must install exactly once")

	hash, err := os.ReadFile(filepath.Join(dir, CertHashFileName))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestTrustCaddyCA_ReinstallsOnCertChange(t *testing.T) {
	dir := t.TempDir()
	mock := &proc.MockManager{RunFunc: fakeDockerCp(t, "CERT-A")}

	installs := 0
	helper := NewTrustHelper(mock, dir)
	helper.installPlatform = func(_ context.Context, _ string) error {
		installs++
		return nil
	}

	require.NoError(t, helper.TrustCaddyCA(context.Background(), "lo1-shop-proxy"))

	mock.RunFunc = fakeDockerCp(t, "CERT-B")
	require.NoError(t, helper.TrustCaddyCA(context.Background(), "lo1-shop-proxy"))

	assert.Equal(t, 2, installs, "rotated cert must reinstall")
}

func TestTrustCaddyCA_ExtractFailure(t *testing.T) {
	mock := &proc.MockManager{
		RunFunc: func(_ context.Context, _ string, _ ...string) (string, string, int, error) {
			return "", "no such container", 1, errors.New("exit status 1")
		},
	}

	helper := NewTrustHelper(mock, t.TempDir())
	err := helper.TrustCaddyCA(context.Background(), "lo1-shop-proxy")
	require.Error(t, err)

	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	assert.Equal(t, "extract", tlsErr.Step)
	assert.Contains(t, err.Error(), "no such container")
}

func TestTrustCaddyCA_InstallFailureLeavesNoHash(t *testing.T) {
	dir := t.TempDir()
	mock := &proc.MockManager{RunFunc: fakeDockerCp(t, "CERT-A")}

	helper := NewTrustHelper(mock, dir)
	helper.installPlatform = func(_ context.Context, _ string) error {
		return errors.New("keychain locked")
	}

	err := helper.TrustCaddyCA(context.Background(), "lo1-shop-proxy")
	require.Error(t, err)

	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	assert.Equal(t, "install", tlsErr.Step)

	_, statErr := os.Stat(filepath.Join(dir, CertHashFileName))
	assert.True(t, os.IsNotExist(statErr), "failed install must not record the hash")
}
