// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package authz

import (
	"sort"
	"strings"

	"github.com/toeirei/keygate/internal/db"
	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/model"
)

// Engine resolves (user, host) pairs into authorized key sets. It is
// stateless apart from the injected store and safe for concurrent use.
type Engine struct {
	store db.Store
}

// NewEngine returns an Engine backed by the given store.
func NewEngine(store db.Store) *Engine {
	return &Engine{store: store}
}

// Distance is the specificity measure for a rule against a request:
// max(0, len(reqHost)+len(reqUser) - len(patHost)-len(patUser)).
// Lower means more specific; a pattern at least as long as the request
// is maximally specific.
func Distance(user, host string, p model.Permission) int {
	d := len(host) + len(user) - len(p.HostPattern) - len(p.UserPattern)
	if d < 0 {
		return 0
	}
	return d
}

// Authorized computes the full authorization answer for the requested
// pair. Zero matching rules yield an empty slice, not an error. Results
// are ordered by account id ascending so that repeated calls against
// unchanged storage produce byte-identical renderings.
func (e *Engine) Authorized(user, host string) ([]model.AuthorizedKey, error) {
	rules, err := e.store.GetMatchingRules(user, host)
	if err != nil {
		return nil, err
	}

	// Group the matching rules per account, keeping account order.
	type accountRules struct {
		account model.Account
		perms   []model.Permission
	}
	var order []int64
	byAccount := make(map[int64]*accountRules)
	for _, r := range rules {
		ar, ok := byAccount[r.Account.ID]
		if !ok {
			ar = &accountRules{account: r.Account}
			byAccount[r.Account.ID] = ar
			order = append(order, r.Account.ID)
		}
		ar.perms = append(ar.perms, r.Permission)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := []model.AuthorizedKey{}
	for _, id := range order {
		ar := byAccount[id]
		merged := mergeRules(user, host, ar.perms)

		keys, err := e.store.GetAccountKeys(id)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			// Per-key restrictions are the most specific source of all
			// and take precedence over any rule-level options.
			opts := Merge(ParseOptions(k.SSHOptions), merged)
			out = append(out, model.AuthorizedKey{
				PublicKey:   k.PublicKey,
				Email:       ar.account.Email,
				AccountID:   id,
				Fingerprint: k.Fingerprint,
				SSHOptions:  opts.Render(),
			})
		}
	}
	return out, nil
}

// mergeRules folds an account's matching rules from least to most
// specific, so the most specific rule's singular fields win.
func mergeRules(user, host string, perms []model.Permission) *SSHOptions {
	ranked := make([]model.Permission, len(perms))
	copy(ranked, perms)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Distance(user, host, ranked[i]) > Distance(user, host, ranked[j])
	})

	var merged *SSHOptions
	for _, p := range ranked {
		opts := ParseOptions(p.SSHOptions)
		if opts == nil && strings.TrimSpace(p.SSHOptions) != "" {
			logging.Warnf("authz: ignoring malformed options on permission %d", p.ID)
		}
		merged = Merge(opts, merged)
	}
	return merged
}
