// Package execsign provides exec-backed Signer and Publisher collaborators:
// a zsign-style re-signing tool and an scp upload to the asset server. The
// engine treats both as opaque; any failure simply excludes the task from
// this run's snapshot advance.
package execsign

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	signforge "github.com/signforge/signforge"
)

// SignerConfig locates the signing tool and credentials.
type SignerConfig struct {
	ToolPath     string // zsign binary
	CertPath     string // p12 certificate
	ProfilePath  string // mobileprovision profile
	CertPassword string
	WorkDir      string
	Timeout      time.Duration
}

// Signer downloads the upstream package and re-signs it with zsign.
type Signer struct {
	cfg        SignerConfig
	httpClient *http.Client
}

// NewSigner validates the tool configuration.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if strings.TrimSpace(cfg.ToolPath) == "" {
		return nil, errors.New("execsign: signing tool path is empty")
	}
	if strings.TrimSpace(cfg.CertPath) == "" || strings.TrimSpace(cfg.ProfilePath) == "" {
		return nil, errors.New("execsign: certificate or profile path is empty")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Signer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Sign fetches the package from downloadURL and produces a signed copy,
// returning its local path.
func (s *Signer) Sign(ctx context.Context, task signforge.Task, downloadURL string) (string, error) {
	if s == nil {
		return "", errors.New("execsign: signer is nil")
	}
	if strings.TrimSpace(downloadURL) == "" {
		return "", errors.Errorf("execsign: task %q has no download URL", task.TaskName)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	input := filepath.Join(s.cfg.WorkDir, slugify(task.TaskName)+"-input.ipa")
	if err := s.download(ctx, downloadURL, input); err != nil {
		return "", err
	}
	defer os.Remove(input)

	output := filepath.Join(s.cfg.WorkDir, slugify(task.TaskName)+"-signed.ipa")
	args := []string{
		"-k", s.cfg.CertPath,
		"-m", s.cfg.ProfilePath,
		"-o", output,
		"-z", "9",
	}
	if s.cfg.CertPassword != "" {
		args = append(args, "-p", s.cfg.CertPassword)
	}
	if task.BundleID != "" {
		args = append(args, "-b", task.BundleID)
	}
	args = append(args, input)

	cmd := exec.CommandContext(ctx, s.cfg.ToolPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.Wrapf(err, "execsign: sign %q failed: %s", task.TaskName, strings.TrimSpace(string(out)))
	}
	log.Info().Str("task", task.TaskName).Str("artifact", output).Msg("execsign: package signed")
	return output, nil
}

func (s *Signer) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "execsign: build download request failed")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "execsign: download failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("execsign: download returned %d for %s", resp.StatusCode, url)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "execsign: create work dir failed")
	}
	file, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "execsign: create package file failed")
	}
	defer file.Close()
	if _, err := io.Copy(file, resp.Body); err != nil {
		return errors.Wrap(err, "execsign: write package file failed")
	}
	return nil
}

// UploaderConfig holds the asset server connection settings.
type UploaderConfig struct {
	Host     string
	User     string
	Password string
	Timeout  time.Duration
}

// Uploader publishes signed artifacts over scp (sshpass for the password).
type Uploader struct {
	cfg UploaderConfig
}

// NewUploader validates the connection settings.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("execsign: asset server host or user is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Uploader{cfg: cfg}, nil
}

// Publish uploads the artifact to the task's asset server path. A path with
// a trailing slash is treated as a directory and the artifact's file name is
// appended; otherwise it is the exact destination file.
func (u *Uploader) Publish(ctx context.Context, task signforge.Task, artifactPath string) error {
	if u == nil {
		return errors.New("execsign: uploader is nil")
	}
	dest := BuildRemoteDest(task.AssetServerPath, filepath.Base(artifactPath))
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	if err := u.ensureRemoteDir(ctx, dest); err != nil {
		return err
	}
	target := fmt.Sprintf("%s@%s:%s", u.cfg.User, u.cfg.Host, dest)
	cmd := exec.CommandContext(ctx, "sshpass", "-p", u.cfg.Password,
		"scp", "-o", "StrictHostKeyChecking=no", artifactPath, target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "execsign: upload %q failed: %s", task.TaskName, strings.TrimSpace(string(out)))
	}
	log.Info().Str("task", task.TaskName).Str("dest", dest).Msg("execsign: artifact published")
	return nil
}

func (u *Uploader) ensureRemoteDir(ctx context.Context, destPath string) error {
	remoteDir := filepath.Dir(destPath)
	if remoteDir == "" || remoteDir == "." {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sshpass", "-p", u.cfg.Password,
		"ssh", "-o", "StrictHostKeyChecking=no",
		fmt.Sprintf("%s@%s", u.cfg.User, u.cfg.Host),
		fmt.Sprintf("mkdir -p %q", remoteDir))
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "execsign: ensure remote dir %s failed: %s", remoteDir, strings.TrimSpace(string(out)))
	}
	return nil
}

// BuildRemoteDest resolves the final upload path for an artifact.
func BuildRemoteDest(basePath, filename string) string {
	if strings.HasSuffix(basePath, "/") {
		return basePath + filename
	}
	return basePath
}

var slugPattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func slugify(name string) string {
	s := slugPattern.ReplaceAllString(strings.TrimSpace(name), "_")
	s = strings.Trim(s, "._-")
	if s == "" {
		return "app"
	}
	return s
}
