package usecase

import (
	"context"
	"strings"

	"crm-backend/internal/contact/domain"
	"crm-backend/internal/contact/repository"
	"crm-backend/pkg/logger"
)

// ContactResolver maps candidate addresses to at most one contact.
type ContactResolver interface {
	Resolve(ctx context.Context, candidates []string) (*string, error)
}

type resolver struct {
	repo repository.ContactRepository
}

func NewContactResolver(repo repository.ContactRepository) ContactResolver {
	return &resolver{repo: repo}
}

// Resolve applies three tiers in order and returns the first hit:
//  1. exact equality of normalized addresses
//  2. equality after dropping "+tag" sub-addresses
//  3. one address containing the other, accepted only when a single contact
//     matches the candidate
//
// Within a tier candidates are tried in the given order and contacts oldest
// first. No candidates, or no match, yields nil.
func (r *resolver) Resolve(ctx context.Context, candidates []string) (*string, error) {
	normalized := normalizeCandidates(candidates)
	if len(normalized) == 0 {
		return nil, nil
	}

	contacts, err := r.repo.FindByAddressFragments(ctx, fragmentsFor(normalized))
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}

	book := make([][]string, len(contacts))
	for i := range contacts {
		book[i] = contacts[i].Addresses()
	}

	for _, cand := range normalized {
		for i, addrs := range book {
			for _, addr := range addrs {
				if addr == cand {
					return &contacts[i].ID, nil
				}
			}
		}
	}

	for _, cand := range normalized {
		canon := domain.CanonicalAddress(cand)
		for i, addrs := range book {
			for _, addr := range addrs {
				if domain.CanonicalAddress(addr) == canon {
					return &contacts[i].ID, nil
				}
			}
		}
	}

	log := logger.With("resolver")
	for _, cand := range normalized {
		var matched []string
		for i, addrs := range book {
			for _, addr := range addrs {
				if strings.Contains(addr, cand) || strings.Contains(cand, addr) {
					matched = append(matched, contacts[i].ID)
					break
				}
			}
		}
		switch len(matched) {
		case 0:
		case 1:
			return &matched[0], nil
		default:
			log.Warn().Str("candidate", cand).Strs("contact_ids", matched).
				Msg("ambiguous partial address match, leaving unresolved")
		}
	}
	return nil, nil
}

func normalizeCandidates(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		addr := domain.NormalizeAddress(c)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// fragmentsFor builds the pre-filter fragments. Partial matches are only
// looked for among contacts sharing the candidate's domain.
func fragmentsFor(candidates []string) []string {
	out := make([]string, 0, len(candidates)*2)
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, c := range candidates {
		add(c)
		if d := domain.AddressDomain(c); d != "" {
			add("@" + d)
		}
	}
	return out
}
