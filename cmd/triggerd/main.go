// Command triggerd runs the voice-trigger recognition core standalone,
// wiring the reference DSP, resource-manager, and voice-UI
// implementations together the way a platform build would wire in its
// real collaborators (spec.md §6 external interfaces).
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/fankserver/voicetrigger/internal/config"
	"github.com/fankserver/voicetrigger/internal/dsp"
	"github.com/fankserver/voicetrigger/internal/engine1"
	"github.com/fankserver/voicetrigger/internal/events"
	"github.com/fankserver/voicetrigger/internal/logging"
	"github.com/fankserver/voicetrigger/internal/registry"
	"github.com/fankserver/voicetrigger/internal/resource"
	"github.com/fankserver/voicetrigger/internal/stream"
	"github.com/fankserver/voicetrigger/internal/vui"
	"github.com/fankserver/voicetrigger/pkg/stplugin"
	"github.com/sirupsen/logrus"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "path to triggerd.yaml")
	flag.Parse()
}

func main() {
	logging.SetupFromEnv()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	cfg = config.LoadFromEnv(cfg)
	logging.Setup(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New()
	bus := events.NewBus(64)
	defer bus.Stop()

	resourceMgr := resource.NewDefaultManager()
	vuiIface := vui.NewDefaultInterface()
	plugin := stplugin.NewReference()

	arbiter := engine1.NewDetectionArbiter()

	bus.Subscribe("", func(ev events.Event) {
		logrus.WithFields(logrus.Fields{
			"stream_id": ev.StreamID,
			"kind":      ev.Kind,
		}).Info("client callback")
	})

	for moduleType, mt := range cfg.ModuleTypes {
		session := dsp.NewLoopbackSession()
		eng1 := engine1.New(moduleType, session, arbiter, func(streamID string, ev dsp.Event) {
			raw, err := reg.Stream(streamID)
			if err != nil {
				logrus.WithError(err).WithField("stream_id", streamID).Warn("detection for unregistered stream")
				return
			}
			st, ok := raw.(*stream.Stream)
			if !ok {
				return
			}
			st.Detected(ctx, ev)
		})
		reg.RegisterEngine(moduleType, eng1)

		streamCfg := stream.Config{
			ModuleType:               moduleType,
			NotifySecondStageFailure: mt.NotifySecondStageFailure,
			SampleRate:               mt.SampleRate,
			BitWidth:                 mt.BitWidth,
			Channels:                 mt.Channels,
			RingBufferCapacity:       mt.RingBufferKB * 1024,
			Plugin:                   plugin,
		}
		id := reg.NextStreamID()
		st := stream.New(id, streamCfg, eng1, resourceMgr, vuiIface, bus)
		reg.RegisterStream(id, st)

		logrus.WithFields(logrus.Fields{"module_type": moduleType, "stream_id": id}).Info("stream registered")
	}

	logrus.Info("triggerd ready, press CTRL-C to exit")
	<-ctx.Done()

	logrus.Info("shutting down gracefully")
	for _, id := range reg.StreamIDs() {
		raw, err := reg.Stream(id)
		if err != nil {
			continue
		}
		if st, ok := raw.(*stream.Stream); ok {
			_ = st.UnloadSoundModel(context.Background())
		}
	}
}
