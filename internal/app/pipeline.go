package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/rs/zerolog"
)

// ErrCanceled signale qu'un job a été annulé pendant le pipeline. Ce n'est
// pas un échec : le worker abandonne sans toucher à l'état (déjà canceled).
var ErrCanceled = errors.New("job canceled")

const fetchChunkSize = 256 * 1024

// PipelineEnv porte le contexte d'exécution d'un asset : settings au moment
// du claim, token du compte, et le drapeau d'annulation coopératif.
type PipelineEnv struct {
	Settings   domain.Settings
	Token      string
	IsCanceled func() (bool, error)
}

// Pipeline récupère un asset, le déchiffre via l'outil externe quand la
// plateforme le protège, le muxe si configuré, vérifie la sortie et la
// renomme atomiquement. Aucun fichier partiel n'apparaît jamais au chemin
// final : tout le travail se fait sur des chemins temporaires.
type Pipeline struct {
	logger zerolog.Logger
	client *http.Client
}

func NewPipeline(logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger,
		client: &http.Client{Timeout: 0}, // les gros fichiers n'ont pas de timeout global
	}
}

func (p *Pipeline) Process(ctx context.Context, env PipelineEnv, asset domain.MediaAsset, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return &CodedError{Code: CodeIOError, Message: "create output dir", Err: err}
	}

	partPath := destPath + ".part"
	workPath := partPath

	if err := p.fetch(ctx, env, asset, partPath); err != nil {
		return err
	}

	if asset.DRM != domain.DRMNone {
		decPath := destPath + ".dec"
		if err := p.decrypt(ctx, env, asset, partPath, decPath); err != nil {
			_ = os.Remove(decPath)
			return err
		}
		_ = os.Remove(partPath)
		workPath = decPath
	}

	if env.Settings.MuxerPath != "" {
		muxPath := destPath + ".mux"
		if err := p.mux(ctx, env, workPath, muxPath); err != nil {
			_ = os.Remove(muxPath)
			_ = os.Remove(workPath)
			return err
		}
		_ = os.Remove(workPath)
		workPath = muxPath
	}

	if err := p.verify(env, asset, workPath); err != nil {
		_ = os.Remove(workPath)
		return err
	}

	// Rename atomique : à partir d'ici l'annulation est un no-op, le
	// fichier est gardé.
	if err := os.Rename(workPath, destPath); err != nil {
		_ = os.Remove(workPath)
		return &CodedError{Code: CodeIOError, Message: "finalize output", Err: err}
	}
	return nil
}

// fetch télécharge vers partPath, reprenable via Range quand un .part
// existe déjà. L'annulation est vérifiée entre chaque chunk, jamais au
// milieu d'une écriture.
func (p *Pipeline) fetch(ctx context.Context, env PipelineEnv, asset domain.MediaAsset, partPath string) error {
	var offset int64
	if st, err := os.Stat(partPath); err == nil && st.Size() > 0 {
		offset = st.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return &CodedError{Code: CodeFetchFailed, Message: "bad media url", Permanent: true, Err: err}
	}
	req.Header.Set("User-Agent", env.Settings.UserAgent)
	if env.Token != "" {
		req.Header.Set("Authorization", "Bearer "+env.Token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &CodedError{Code: CodeFetchFailed, Message: "fetch media", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		// reprise acceptée
	case resp.StatusCode == http.StatusOK:
		offset = 0
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return &CodedError{Code: CodeFetchFailed, Message: "media gone: " + resp.Status, Permanent: true}
	case resp.StatusCode >= 500:
		return &CodedError{Code: CodeFetchFailed, Message: "platform error: " + resp.Status}
	default:
		return &CodedError{Code: CodeFetchFailed, Message: "unexpected status: " + resp.Status, Permanent: resp.StatusCode >= 400 && resp.StatusCode < 500}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return &CodedError{Code: CodeIOError, Message: "open part file", Err: err}
	}
	defer f.Close()

	buf := make([]byte, fetchChunkSize)
	for {
		if env.IsCanceled != nil {
			canceled, err := env.IsCanceled()
			if err != nil {
				return err
			}
			if canceled {
				return ErrCanceled
			}
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return &CodedError{Code: CodeIOError, Message: "write chunk", Err: err}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			// le .part reste en place pour une reprise au prochain essai
			return &CodedError{Code: CodeFetchFailed, Message: "read body", Err: readErr}
		}
	}
}

// decrypt obtient la clé (hint de l'adapter ou acquisition de licence) puis
// invoque l'outil externe de déchiffrement.
func (p *Pipeline) decrypt(ctx context.Context, env PipelineEnv, asset domain.MediaAsset, inPath, outPath string) error {
	tool, err := resolveTool(env.Settings.DecryptorPath, "mp4decrypt", env.Settings.UseSystemTools)
	if err != nil {
		return &CodedError{Code: CodeDecryptFailed, Message: "no decryptor configured", Permanent: true, Err: err}
	}

	key := strings.TrimSpace(asset.KeyHint)
	if key == "" {
		key, err = p.acquireLicense(ctx, env, asset)
		if err != nil {
			return err
		}
	}
	if key == "" {
		return &CodedError{Code: CodeDecryptFailed, Message: "no content key available", Permanent: true}
	}

	cmd := exec.CommandContext(ctx, tool, "--key", "1:"+key, inPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		p.logger.Error().Err(err).Str("tool", tool).Str("output", truncateOutput(out)).Msg("decrypt failed")
		return &CodedError{Code: CodeDecryptFailed, Message: "decryptor exited with error", Permanent: true, Err: err}
	}
	return nil
}

// acquireLicense échange le token du compte contre la clé de contenu.
// Un refus (401/403) est définitif : le compte n'a pas le droit, ou le
// contenu a expiré.
func (p *Pipeline) acquireLicense(ctx context.Context, env PipelineEnv, asset domain.MediaAsset) (string, error) {
	if asset.LicenseURL == "" {
		return "", &CodedError{Code: CodeLicenseDenied, Message: "no license url for protected asset", Permanent: true}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.LicenseURL, nil)
	if err != nil {
		return "", &CodedError{Code: CodeLicenseDenied, Message: "bad license url", Permanent: true, Err: err}
	}
	req.Header.Set("User-Agent", env.Settings.UserAgent)
	if env.Token != "" {
		req.Header.Set("Authorization", "Bearer "+env.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &CodedError{Code: CodeFetchFailed, Message: "license request", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", &CodedError{Code: CodeLicenseDenied, Message: "license denied: " + resp.Status, Permanent: true}
	default:
		return "", &CodedError{Code: CodeFetchFailed, Message: "license server: " + resp.Status}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", &CodedError{Code: CodeFetchFailed, Message: "read license", Err: err}
	}
	return strings.TrimSpace(string(b)), nil
}

// mux invoque le muxer configuré. Un échec est retenté une fois en interne
// (contention transitoire fréquente), puis devient définitif.
func (p *Pipeline) mux(ctx context.Context, env PipelineEnv, inPath, outPath string) error {
	tool, err := resolveTool(env.Settings.MuxerPath, "ffmpeg", env.Settings.UseSystemTools)
	if err != nil {
		return &CodedError{Code: CodeMuxFailed, Message: "no muxer configured", Permanent: true, Err: err}
	}

	args := []string{"-y", "-i", inPath}
	if env.Settings.MuxArgs != "" {
		args = append(args, strings.Fields(env.Settings.MuxArgs)...)
	}
	args = append(args, outPath)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		cmd := exec.CommandContext(ctx, tool, args...)
		out, err := cmd.CombinedOutput()
		if err == nil {
			return nil
		}
		lastErr = err
		p.logger.Warn().Err(err).Int("attempt", attempt+1).Str("output", truncateOutput(out)).Msg("mux failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return &CodedError{Code: CodeMuxFailed, Message: "muxer exited with error", Permanent: true, Err: lastErr}
}

func (p *Pipeline) verify(env PipelineEnv, asset domain.MediaAsset, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return &CodedError{Code: CodeIOError, Message: "stat output", Err: err}
	}
	if st.Size() == 0 {
		return &CodedError{Code: CodeFetchFailed, Message: "empty output file"}
	}
	if asset.Checksum != "" && asset.DRM == domain.DRMNone && env.Settings.MuxerPath == "" {
		sum, err := sha256File(path)
		if err != nil {
			return &CodedError{Code: CodeIOError, Message: "checksum output", Err: err}
		}
		if !strings.EqualFold(sum, asset.Checksum) {
			return &CodedError{Code: CodeFetchFailed, Message: "checksum mismatch"}
		}
	}
	return nil
}

// resolveTool prend le chemin custom s'il est donné, sinon cherche le
// binaire système dans le PATH quand c'est permis.
func resolveTool(custom, system string, useSystem bool) (string, error) {
	if custom != "" {
		if _, err := os.Stat(custom); err != nil {
			return "", fmt.Errorf("tool %s: %w", custom, err)
		}
		return custom, nil
	}
	if !useSystem {
		return "", errors.New("no tool path configured")
	}
	return exec.LookPath(system)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func truncateOutput(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		s = s[:512] + "…"
	}
	return s
}
