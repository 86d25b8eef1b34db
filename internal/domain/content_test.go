package domain

import (
	"testing"
	"time"
)

func TestPageLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Le verrou plateforme est autoritaire, même sans date de libération.
	p := Page{ID: "p1", PlatformLocked: true}
	if !p.Locked(now) {
		t.Fatalf("platform-locked page should be locked")
	}

	// Date de libération future -> verrouillée.
	p = Page{ID: "p2", LiberationAt: now.Add(48 * time.Hour)}
	if !p.Locked(now) {
		t.Fatalf("page with future liberation date should be locked")
	}

	// Date passée et pas de verrou plateforme -> libre.
	p = Page{ID: "p3", LiberationAt: now.Add(-time.Hour)}
	if p.Locked(now) {
		t.Fatalf("page with past liberation date should be unlocked")
	}

	// Verrou plateforme + date passée : le verrou gagne.
	p = Page{ID: "p4", PlatformLocked: true, LiberationAt: now.Add(-time.Hour)}
	if !p.Locked(now) {
		t.Fatalf("platform lock should win over past liberation date")
	}
}

func TestPageRemainingDays(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		at   time.Time
		want int
	}{
		{"already released", now.Add(-time.Hour), 0},
		{"no date", time.Time{}, 0},
		{"one hour left rounds up", now.Add(time.Hour), 1},
		{"exactly three days", now.Add(72 * time.Hour), 3},
		{"three days and change rounds up", now.Add(72*time.Hour + time.Minute), 4},
	}
	for _, tc := range cases {
		p := Page{LiberationAt: tc.at}
		if got := p.RemainingDays(now); got != tc.want {
			t.Errorf("%s: RemainingDays = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestPageLiberateNeverRegresses(t *testing.T) {
	base := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	p := Page{}
	p.Liberate(base)
	if !p.LiberationAt.Equal(base) {
		t.Fatalf("first Liberate should set the date")
	}
	p.Liberate(base.Add(-24 * time.Hour))
	if !p.LiberationAt.Equal(base) {
		t.Fatalf("Liberate must not move the date backwards")
	}
	p.Liberate(base.Add(24 * time.Hour))
	if !p.LiberationAt.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("Liberate should advance the date")
	}
}

func TestModuleLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Module vide : rien à verrouiller.
	if (Module{}).Locked(now) {
		t.Fatalf("empty module should not be locked")
	}

	m := Module{Pages: []Page{
		{ID: "a", PlatformLocked: true},
		{ID: "b", PlatformLocked: true},
	}}
	if !m.Locked(now) {
		t.Fatalf("module with only locked pages should be locked")
	}

	m.Pages = append(m.Pages, Page{ID: "c"})
	if m.Locked(now) {
		t.Fatalf("one unlocked page should unlock the module")
	}
}

func TestAccountTokenFresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	margin := 5 * time.Minute

	a := Account{Token: "tok", TokenExpiresAt: now.Add(time.Hour)}
	if !a.TokenFresh(now, margin) {
		t.Fatalf("token expiring in an hour should be fresh")
	}

	a.TokenExpiresAt = now.Add(2 * time.Minute)
	if a.TokenFresh(now, margin) {
		t.Fatalf("token inside the refresh margin should not be fresh")
	}

	// Pas d'expiration connue : considéré frais.
	a.TokenExpiresAt = time.Time{}
	if !a.TokenFresh(now, margin) {
		t.Fatalf("token without expiry should be fresh")
	}

	a.Token = ""
	if a.TokenFresh(now, margin) {
		t.Fatalf("empty token is never fresh")
	}
}
