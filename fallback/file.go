package fallback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 200 * time.Millisecond

// FileProvider reads credentials from a YAML (or JSON) file:
//
//	identifier: ci-bot@example.com
//	secret: hunter2-hunter2
//
// A missing file means "no fallback". Watch keeps the in-memory copy current.
type FileProvider struct {
	path   string
	logger logr.Logger

	mu    sync.RWMutex
	creds Credentials

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// NewFileProvider loads path once. A missing file is not an error.
func NewFileProvider(path string, logger logr.Logger) (*FileProvider, error) {
	p := &FileProvider{
		path:   filepath.Clean(path),
		logger: logger.WithName("fallback"),
		done:   make(chan struct{}),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) FallbackCredentials(context.Context) (Credentials, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.creds, p.creds.Valid(), nil
}

// Watch starts reloading the file when it changes. The parent directory is
// watched so editors that replace the file atomically are handled.
func (p *FileProvider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	p.watcher = watcher

	reload := make(chan struct{}, 1)
	go p.handleEvents(reload)
	go p.scheduleReload(reload)
	return nil
}

// Close stops watching.
func (p *FileProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.watcher != nil {
			err = p.watcher.Close()
		}
	})
	return err
}

func (p *FileProvider) handleEvents(reload chan<- struct{}) {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error(err, "fallback file watcher error")
		}
	}
}

func (p *FileProvider) scheduleReload(reload <-chan struct{}) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-p.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-reload:
			if timer != nil {
				timer.Reset(reloadDebounce)
			} else {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			if err := p.reload(); err != nil {
				p.logger.Error(err, "fallback file reload failed", "path", p.path)
			}
		}
	}
}

func (p *FileProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		p.set(Credentials{})
		p.logger.V(1).Info("fallback file absent", "path", p.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read fallback file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse fallback file: %w", err)
	}
	p.set(creds)
	p.logger.V(1).Info("fallback credentials loaded", "path", p.path, "identifier", creds.Identifier)
	return nil
}

func (p *FileProvider) set(creds Credentials) {
	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
}
