// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import "testing"

func TestClusterCacheWarning(t *testing.T) {
	cases := []struct {
		clusterMode string
		cacheType   string
		wantWarning bool
	}{
		{"redis", "memory", true},
		{"redis", "redis", false},
		{"redis", "memcached", false},
		{"redis", "", false},
		{"", "memory", false},
		{"none", "memory", false},
	}
	for _, c := range cases {
		got := clusterCacheWarning(c.clusterMode, c.cacheType)
		if (got != "") != c.wantWarning {
			t.Fatalf("clusterCacheWarning(%q, %q) = %q, wantWarning=%v",
				c.clusterMode, c.cacheType, got, c.wantWarning)
		}
	}
}
