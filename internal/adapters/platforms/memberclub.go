package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

const memberClubBaseURL = "https://members.club-area.example.com"

// MemberClub couvre les espaces membres à token collé : pas de login par
// mot de passe, l'utilisateur fournit directement son token d'API. Le
// catalogue est paginé et les leçons portent des dates de libération
// (drip content). Pas de DRM, fichiers servis en clair.
type MemberClub struct {
	baseURL string
	opts    Options
}

func NewMemberClub(opts Options) *MemberClub {
	return &MemberClub{baseURL: memberClubBaseURL, opts: opts}
}

func (c *MemberClub) WithBaseURL(u string) *MemberClub {
	c.baseURL = u
	return c
}

func (c *MemberClub) Platform() domain.Platform {
	return domain.Platform{ID: "memberclub", Name: "Member Club"}
}

// Authenticate valide le token collé par un appel à /me. Pas d'échange
// username/password sur cette plateforme.
func (c *MemberClub) Authenticate(ctx context.Context, creds Credentials) (ports.Token, error) {
	if creds.Secret == "" {
		return ports.Token{}, ports.ErrInvalidCredentials
	}
	var out struct {
		ExpiresAt string `json:"expires_at"`
	}
	if err := c.doJSON(ctx, "/api/me", creds.Secret, nil, &out); err != nil {
		return ports.Token{}, err
	}
	tok := ports.Token{Value: creds.Secret}
	if out.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339, out.ExpiresAt); err == nil {
			tok.ExpiresAt = at
		}
	}
	return tok, nil
}

// RefreshToken : un token collé expiré ne se renouvelle pas côté serveur,
// l'utilisateur doit en recoller un.
func (c *MemberClub) RefreshToken(ctx context.Context, account domain.Account) (ports.Token, error) {
	return ports.Token{}, ports.ErrExpiredUnrecoverable
}

func (c *MemberClub) Products(ctx context.Context, account domain.Account) ports.Cursor[domain.Product] {
	return newPagedCursor(func(ctx context.Context, cursor string) ([]entry[domain.Product], string, error) {
		var out struct {
			Items []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Slug   string `json:"slug"`
				Status string `json:"status"`
			} `json:"items"`
			NextCursor string `json:"next_cursor"`
		}
		if err := c.doJSON(ctx, paged("/api/products", cursor), account.Token, nil, &out); err != nil {
			return nil, "", err
		}
		products := make([]entry[domain.Product], 0, len(out.Items))
		for _, p := range out.Items {
			if p.ID == "" {
				products = append(products, bad[domain.Product](p.Name, errors.New("product entry missing id")))
				continue
			}
			products = append(products, ok(domain.Product{
				ID:        p.ID,
				AccountID: account.ID,
				Name:      p.Name,
				Subdomain: p.Slug,
				Domain:    "members.club-area.example.com",
				Status:    productStatus(p.Status),
			}))
		}
		return products, out.NextCursor, nil
	})
}

func (c *MemberClub) Modules(ctx context.Context, account domain.Account, product domain.Product) ports.Cursor[domain.Module] {
	return newPagedCursor(func(ctx context.Context, cursor string) ([]entry[domain.Module], string, error) {
		var out struct {
			Items []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"items"`
			NextCursor string `json:"next_cursor"`
		}
		if err := c.doJSON(ctx, paged("/api/products/"+product.ID+"/sections", cursor), account.Token, nil, &out); err != nil {
			return nil, "", err
		}
		modules := make([]entry[domain.Module], 0, len(out.Items))
		for _, m := range out.Items {
			if m.ID == "" {
				modules = append(modules, bad[domain.Module](m.Name, errors.New("section entry missing id")))
				continue
			}
			modules = append(modules, ok(domain.Module{ID: m.ID, ProductID: product.ID, Name: m.Name}))
		}
		return modules, out.NextCursor, nil
	})
}

func (c *MemberClub) Pages(ctx context.Context, account domain.Account, module domain.Module) ports.Cursor[domain.Page] {
	return newPagedCursor(func(ctx context.Context, cursor string) ([]entry[domain.Page], string, error) {
		var out struct {
			Items []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Locked   bool   `json:"locked"`
				DripDate string `json:"drip_date"`
			} `json:"items"`
			NextCursor string `json:"next_cursor"`
		}
		if err := c.doJSON(ctx, paged("/api/sections/"+module.ID+"/lessons", cursor), account.Token, nil, &out); err != nil {
			return nil, "", err
		}
		pages := make([]entry[domain.Page], 0, len(out.Items))
		for _, p := range out.Items {
			if p.ID == "" {
				pages = append(pages, bad[domain.Page](p.Name, errors.New("lesson entry missing id")))
				continue
			}
			page := domain.Page{
				ID:             p.ID,
				ModuleID:       module.ID,
				Name:           p.Name,
				PlatformLocked: p.Locked,
			}
			if p.DripDate != "" {
				at, err := time.Parse(time.RFC3339, p.DripDate)
				if err != nil {
					pages = append(pages, bad[domain.Page](p.ID, fmt.Errorf("bad drip_date %q: %w", p.DripDate, err)))
					continue
				}
				page.Liberate(at)
			}
			pages = append(pages, ok(page))
		}
		return pages, out.NextCursor, nil
	})
}

func (c *MemberClub) ResolveMedia(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
	var out struct {
		Video *struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Size     int64  `json:"size"`
			Duration int    `json:"duration"`
			Checksum string `json:"checksum"`
		} `json:"video"`
		Attachments []struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
		} `json:"attachments"`
	}
	if err := c.doJSON(ctx, "/api/lessons/"+page.ID+"/media", account.Token, nil, &out); err != nil {
		return nil, err
	}

	var assets []domain.MediaAsset
	if out.Video != nil {
		assets = append(assets, domain.MediaAsset{
			ID:       out.Video.ID,
			PageID:   page.ID,
			Kind:     domain.MediaVideo,
			DRM:      domain.DRMNone,
			URL:      out.Video.URL,
			Size:     out.Video.Size,
			Duration: out.Video.Duration,
			Checksum: out.Video.Checksum,
		})
	}
	for _, a := range out.Attachments {
		assets = append(assets, domain.MediaAsset{
			ID:       a.ID,
			PageID:   page.ID,
			Kind:     domain.MediaAttachment,
			DRM:      domain.DRMNone,
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
		})
	}
	return assets, nil
}

func (c *MemberClub) doJSON(ctx context.Context, path, token string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.opts.userAgent())
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.opts.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ports.ErrInvalidCredentials
	case resp.StatusCode >= 400:
		return fmt.Errorf("platform returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func paged(path, cursor string) string {
	if cursor == "" {
		return path
	}
	return path + "?cursor=" + url.QueryEscape(cursor)
}
