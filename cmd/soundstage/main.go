package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/AaronLay10/soundstage/internal/api"
	"github.com/AaronLay10/soundstage/internal/audio"
	"github.com/AaronLay10/soundstage/internal/config"
	"github.com/AaronLay10/soundstage/internal/controller"
	"github.com/AaronLay10/soundstage/internal/display"
	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/fade"
	"github.com/AaronLay10/soundstage/internal/mqtt"
	"github.com/AaronLay10/soundstage/internal/resources"
	"github.com/AaronLay10/soundstage/internal/script"
	"github.com/AaronLay10/soundstage/internal/sequencer"
	"github.com/AaronLay10/soundstage/internal/session"
	"github.com/AaronLay10/soundstage/internal/storage/postgres"
	"github.com/AaronLay10/soundstage/internal/version"
	"github.com/AaronLay10/soundstage/internal/watch"
)

// crlfWriter keeps JSON log lines readable while the terminal is in raw mode.
type crlfWriter struct{ w io.Writer }

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write([]byte(strings.ReplaceAll(string(p), "\n", "\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func main() {
	dataMap := flag.String("data_map", "", "directory containing map.json, sounds/ and art/")
	configPath := flag.String("config", "", "optional soundstage.yaml")
	start := flag.String("start", "", "scene to start immediately")
	keyboard := flag.Bool("keyboard", false, "read operator keys from the terminal")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataMap != "" {
		cfg.DataMap = *dataMap
	}
	if *start != "" {
		cfg.StartScene = *start
	}
	if cfg.DataMap == "" {
		log.Fatal("usage: soundstage --data_map <dir> [--config soundstage.yaml] [--start <scene>] [--keyboard]")
	}

	if err := run(cfg, *keyboard); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.AppConfig, keyboard bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(1024)
	var out io.Writer = os.Stdout
	if keyboard {
		out = crlfWriter{os.Stdout}
	}
	bus.SetOutput(out)

	hostname, _ := os.Hostname()
	sessionID := fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().Unix())

	var journal *postgres.Journal
	if cfg.Postgres.Enabled {
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		j, err := postgres.Open(openCtx, cfg.Postgres, cfg.DataMap)
		cancel()
		if err != nil {
			log.Printf("postgres: journal disabled: %v", err)
		} else {
			journal = j
			defer journal.Close()
			bus.SetJournal(journal, sessionID)
		}
	}

	bus.Emit("info", "system.startup", "soundstage starting", map[string]interface{}{
		"service":    "soundstage",
		"version":    version.Version,
		"hostname":   hostname,
		"pid":        os.Getpid(),
		"data_map":   cfg.DataMap,
		"session_id": sessionID,
	})
	defer bus.Emit("info", "system.shutdown", "soundstage stopped", nil)

	m, report, err := script.Load(cfg.DataMap, bus)
	if err != nil {
		bus.Emit("error", "system.error", "failed to load data map", map[string]interface{}{"error": err.Error()})
		return err
	}
	for _, k := range report.Keys() {
		log.Printf("map: %s: %s", k, report[k])
	}

	// the speaker exists before the runner; position callbacks only start
	// once something plays, by which time runner is set
	var runner *session.Runner
	speaker, err := audio.NewSpeaker(audio.SpeakerOptions{
		SampleRate: cfg.Audio.SampleRate,
		Buffer:     cfg.Audio.Buffer(),
		Post:       func(fn func()) { runner.Post(fn) },
	})
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer speaker.Close()

	reg, err := resources.Load(ctx, m, speaker, resources.Options{
		DefaultVolume: cfg.Audio.Volume,
		Emitter:       bus,
	})
	if err != nil {
		var loadErr *resources.ResourceLoadError
		if errors.As(err, &loadErr) {
			bus.Emit("error", "system.error", "failed to load sound", map[string]interface{}{
				"sound_id": loadErr.ID,
				"path":     loadErr.Path,
				"error":    loadErr.Err.Error(),
			})
		}
		return err
	}
	defer reg.Close()

	fades := fade.New(speaker, bus, fade.WithInterval(cfg.Audio.FadeTick()))
	seq := sequencer.New(m, reg, speaker, fades, bus)
	runner = session.New(seq, fades, bus)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	// stop and drain the session before deferred Close calls release audio
	defer wg.Wait()
	defer cancel()

	goRun(func() { runner.Run(runCtx) })

	renderer := display.New(reg, bus)
	goRun(func() { renderer.Follow(runCtx, bus) })

	if cfg.API.Enabled {
		opts := []api.Option{api.WithFrames(renderer)}
		if journal != nil {
			opts = append(opts, api.WithJournal(journal))
		}
		srv := api.New(cfg.API, bus, runner, opts...)
		srv.SetMapName(filepath.Base(cfg.DataMap))
		srv.SetSessionReady(true)
		srv.SetMQTTState(false, !cfg.MQTT.Enabled)
		srv.SetPostgresState(journal != nil, !cfg.Postgres.Enabled)
		goRun(func() { srv.FollowLinks(runCtx) })

		alerter := api.NewAlerter(cfg.API.AlertWebhook, filepath.Base(cfg.DataMap), cfg.API.MQTTAlertDelay())
		goRun(func() { alerter.Follow(runCtx, bus, 5*time.Second) })

		goRun(func() {
			if err := srv.ListenAndServe(runCtx); err != nil {
				bus.Emit("error", "system.error", "api server failed", map[string]interface{}{"error": err.Error()})
			}
		})
	}

	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTT, bus)
		if err := client.Connect(); err != nil {
			log.Printf("mqtt: failed to connect to %s: %v (retrying in background)", cfg.MQTT.URL, err)
		}
		defer client.Disconnect()

		bridge := mqtt.NewBridge(client, runner, cfg.MQTT.Prefix, bus)
		goRun(func() { bridge.Run(runCtx, bus) })
	}

	if cfg.Watch {
		w, err := watch.New(cfg.DataMap, bus)
		if err != nil {
			log.Printf("watch: disabled: %v", err)
		} else {
			goRun(func() { w.Run(runCtx) })
		}
	}

	if cfg.StartScene != "" {
		if err := runner.Start(ctx, cfg.StartScene); err != nil {
			bus.Emit("warn", "system.error", "failed to start scene", map[string]interface{}{
				"scene_id": cfg.StartScene,
				"error":    err.Error(),
			})
		}
	}

	if keyboard {
		kb := controller.NewKeyboard(os.Stdin, out, runner, cfg.StartScene)
		if err := kb.Run(ctx); err != nil {
			log.Printf("keyboard: %v", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}
