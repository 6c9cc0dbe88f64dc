// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
)

// FilterError reports unknown service names in a user-requested filter.
type FilterError struct {
	// Unknown lists the requested names that do not exist, sorted.
	Unknown []string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter: unknown services: %s", strings.Join(e.Unknown, ", "))
}

var _ error = (*FilterError)(nil)

// ResolveServiceFilter computes the transitive dependency closure of
// the requested service set.
//
// # Description
//
// The result is the least set containing every requested service and
// closed under dependsOn: starting a filtered subset always starts the
// services it needs. Requesting every service is the identity.
//
// # Inputs
//
//   - requested: User-selected service names (from --services)
//   - cfg: The workspace manifest
//
// # Outputs
//
//   - map[string]struct{}: The closure, as an unordered set
//   - error: *FilterError naming every unknown requested service
func ResolveServiceFilter(requested []string, cfg *config.WorkspaceConfig) (map[string]struct{}, error) {
	var unknown []string
	for _, name := range requested {
		if _, ok := cfg.Services[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &FilterError{Unknown: unknown}
	}

	closure := make(map[string]struct{}, len(requested))
	queue := append([]string(nil), requested...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, seen := closure[name]; seen {
			continue
		}
		closure[name] = struct{}{}
		queue = append(queue, cfg.Services[name].DependsOn...)
	}
	return closure, nil
}
