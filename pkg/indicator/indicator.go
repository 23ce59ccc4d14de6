// Package indicator extracts fraud indicators (payment identifiers, bank details,
// phone numbers and links) from free text.
//
// The patterns are heuristics. They do not validate that an identifier exists, and
// categories may overlap: a ten digit mobile number is also a valid bank account
// shape, and both categories report it.
package indicator

import (
	"regexp"
	"sort"
)

// Category names, matching the JSON keys of Set.
const (
	CategoryUPI          = "upi_ids"
	CategoryBankAccount  = "bank_accounts"
	CategoryIFSC         = "ifsc_codes"
	CategoryPhone        = "phone_numbers"
	CategoryPhishingLink = "phishing_links"
)

var (
	upiPattern   = regexp.MustCompile(`\b[a-zA-Z0-9.\-_]{2,}@[a-zA-Z]{2,}\b`)
	linkPattern  = regexp.MustCompile(`https?://[^\s]+`)
	ifscPattern  = regexp.MustCompile(`\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	phonePattern = regexp.MustCompile(`\b[6-9]\d{9}\b`)
	bankPattern  = regexp.MustCompile(`\b\d{9,18}\b`)
)

// Set holds distinct indicators per category. Every slice is sorted and
// duplicate-free; use Extract or Merge to build one.
type Set struct {
	UPIIDs        []string `json:"upi_ids"`
	BankAccounts  []string `json:"bank_accounts"`
	IFSCCodes     []string `json:"ifsc_codes"`
	PhoneNumbers  []string `json:"phone_numbers"`
	PhishingLinks []string `json:"phishing_links"`
}

// Empty returns a Set with all categories present and empty.
func Empty() Set {
	return Set{
		UPIIDs:        []string{},
		BankAccounts:  []string{},
		IFSCCodes:     []string{},
		PhoneNumbers:  []string{},
		PhishingLinks: []string{},
	}
}

// Extract pulls every category out of text. It never fails; categories with no
// match come back empty.
func Extract(text string) Set {
	return Set{
		UPIIDs:        findDistinct(upiPattern, text),
		BankAccounts:  findDistinct(bankPattern, text),
		IFSCCodes:     findDistinct(ifscPattern, text),
		PhoneNumbers:  findDistinct(phonePattern, text),
		PhishingLinks: findDistinct(linkPattern, text),
	}
}

func findDistinct(re *regexp.Regexp, text string) []string {
	return union(nil, re.FindAllString(text, -1))
}

// Merge returns the per-category union of s and other. Neither input is modified.
func (s Set) Merge(other Set) Set {
	return Set{
		UPIIDs:        union(s.UPIIDs, other.UPIIDs),
		BankAccounts:  union(s.BankAccounts, other.BankAccounts),
		IFSCCodes:     union(s.IFSCCodes, other.IFSCCodes),
		PhoneNumbers:  union(s.PhoneNumbers, other.PhoneNumbers),
		PhishingLinks: union(s.PhishingLinks, other.PhishingLinks),
	}
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	return s.Merge(Set{})
}

// Count returns the number of indicators across all categories.
func (s Set) Count() int {
	return len(s.UPIIDs) + len(s.BankAccounts) + len(s.IFSCCodes) + len(s.PhoneNumbers) + len(s.PhishingLinks)
}

// IsEmpty reports whether no category holds an indicator.
func (s Set) IsEmpty() bool {
	return s.Count() == 0
}

// Categories returns the indicator count keyed by category name.
func (s Set) Categories() map[string]int {
	return map[string]int{
		CategoryUPI:          len(s.UPIIDs),
		CategoryBankAccount:  len(s.BankAccounts),
		CategoryIFSC:         len(s.IFSCCodes),
		CategoryPhone:        len(s.PhoneNumbers),
		CategoryPhishingLink: len(s.PhishingLinks),
	}
}

// Contains reports whether s is a superset of other in every category.
func (s Set) Contains(other Set) bool {
	return containsAll(s.UPIIDs, other.UPIIDs) &&
		containsAll(s.BankAccounts, other.BankAccounts) &&
		containsAll(s.IFSCCodes, other.IFSCCodes) &&
		containsAll(s.PhoneNumbers, other.PhoneNumbers) &&
		containsAll(s.PhishingLinks, other.PhishingLinks)
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	index := make(map[string]struct{}, len(have))
	for _, v := range have {
		index[v] = struct{}{}
	}
	for _, v := range want {
		if _, ok := index[v]; !ok {
			return false
		}
	}
	return true
}
