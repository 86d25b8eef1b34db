package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

// BrowserLogin enveloppe un adapter dont le login passe par un navigateur
// piloté (captcha, 2FA, SSO). Seule l'authentification change : le helper
// externe ouvre la page de login, laisse l'utilisateur la franchir et
// imprime la session capturée en JSON sur stdout. Tout le reste est
// délégué à l'adapter sous-jacent.
type BrowserLogin struct {
	inner ports.Adapter
	opts  Options
}

func NewBrowserLogin(inner ports.Adapter, opts Options) *BrowserLogin {
	return &BrowserLogin{inner: inner, opts: opts}
}

func (b *BrowserLogin) Platform() domain.Platform {
	p := b.inner.Platform()
	p.ID = p.ID + "-browser"
	p.Name = p.Name + " (browser login)"
	p.NeedsBrowser = true
	return p
}

func (b *BrowserLogin) Authenticate(ctx context.Context, creds Credentials) (ports.Token, error) {
	helper := ""
	if b.opts.BrowserHelper != nil {
		helper = b.opts.BrowserHelper()
	}
	if helper == "" {
		// Sans helper configuré on ne peut pas franchir le captcha/2FA.
		return ports.Token{}, ports.ErrCaptchaRequired
	}

	cmd := exec.CommandContext(ctx, helper,
		"--platform", b.inner.Platform().ID,
		"--username", creds.Username,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ports.Token{}, fmt.Errorf("browser helper: %w", err)
	}

	var out struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return ports.Token{}, fmt.Errorf("browser helper output: %w", err)
	}
	if out.Token == "" {
		return ports.Token{}, ports.ErrInvalidCredentials
	}

	tok := tokenFromJWT(out.Token, 0, time.Now())
	if tok.ExpiresAt.IsZero() && out.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339, out.ExpiresAt); err == nil {
			tok.ExpiresAt = at
		}
	}
	return tok, nil
}

func (b *BrowserLogin) RefreshToken(ctx context.Context, account domain.Account) (ports.Token, error) {
	return b.inner.RefreshToken(ctx, account)
}

func (b *BrowserLogin) Products(ctx context.Context, account domain.Account) ports.Cursor[domain.Product] {
	return b.inner.Products(ctx, account)
}

func (b *BrowserLogin) Modules(ctx context.Context, account domain.Account, product domain.Product) ports.Cursor[domain.Module] {
	return b.inner.Modules(ctx, account, product)
}

func (b *BrowserLogin) Pages(ctx context.Context, account domain.Account, module domain.Module) ports.Cursor[domain.Page] {
	return b.inner.Pages(ctx, account, module)
}

func (b *BrowserLogin) ResolveMedia(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error) {
	return b.inner.ResolveMedia(ctx, account, page)
}
