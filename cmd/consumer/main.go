package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/archive"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/protocol"
	"main/internal/reader"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	topic := flag.String("topic", "", "Topic to subscribe (overrides config)")
	channel := flag.String("channel", "", "Channel to subscribe (overrides config)")
	brokers := flag.String("brokers", "", "Comma-separated broker host:port list (overrides config)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	if err := run(*configPath, *topic, *channel, *brokers, *pyroscopeAddr); err != nil {
		logs.Errorf("consumer exited, err: %v", err)
		os.Exit(1)
	}
}

func run(configPath, topic, channel, brokers, pyroscopeAddr string) error {
	loaded, err := loadConfig(configPath, topic, channel, brokers)
	if err != nil {
		return err
	}

	if pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "mq/consumer",
			ServerAddress:   pyroscopeAddr,
			Tags: map[string]string{
				"topic": loaded.Topic,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start failed: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	opt := reader.Option{
		Channel:        loaded.Channel,
		MaxInFlight:    loaded.MaxInFlight,
		RequeueDelay:   loaded.RequeueDelay,
		PollTimeout:    loaded.PollTimeout,
		HealthInterval: loaded.HealthInterval,
		Metrics:        obs.NewMetrics(),
	}

	var sink *archive.Sink
	if loaded.Archive.Enabled {
		client, err := conn.New(conn.Option{
			Host:       loaded.Archive.Host,
			Port:       loaded.Archive.Port,
			User:       loaded.Archive.User,
			Password:   loaded.Archive.Password,
			Database:   loaded.Archive.Database,
			SSLMode:    loaded.Archive.SSLMode,
			ConnString: loaded.Archive.ConnString,
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Close()
		}()

		resolvedChannel := opt.Channel
		if resolvedChannel == "" {
			resolvedChannel = loaded.Topic
		}
		sink, err = archive.NewSink(client, loaded.Topic, resolvedChannel, loaded.Archive.QueueSize)
		if err != nil {
			return err
		}
		defer sink.Close()
		opt.OnFinish = sink.OnFinish
		opt.OnRequeue = sink.OnRequeue
	}

	r, err := reader.New(handleMessage, loaded.Topic, loaded.Brokers, opt)
	if err != nil {
		return err
	}

	go func() {
		<-sys.Shutdown()
		r.Stop()
	}()

	if err := r.Run(); err != nil {
		return err
	}

	snapshot := r.Metrics().Snapshot()
	logs.Infof("consumer: frames=%v finished=%d requeued=%d heartbeats=%d panics=%d conns opened=%d lost=%d handler=%+v",
		snapshot.FrameCounts, snapshot.Finished, snapshot.Requeued, snapshot.Heartbeats,
		snapshot.HandlerPanics, snapshot.ConnectionsOpened, snapshot.ConnectionsLost, snapshot.HandlerLatency)
	return nil
}

// handleMessage is the demo handler: log and acknowledge.
func handleMessage(msg *protocol.Message) (bool, time.Duration) {
	logs.Infof("consumer: message %s attempts=%d bytes=%d", msg.ID, msg.Attempts, len(msg.Body))
	return true, 0
}

func loadConfig(path, topic, channel, brokers string) (ops.Loaded, error) {
	var loaded ops.Loaded
	if path != "" {
		var err error
		loaded, err = ops.Load(path)
		if err != nil {
			return ops.Loaded{}, err
		}
	}
	if topic != "" {
		loaded.Topic = topic
	}
	if channel != "" {
		loaded.Channel = channel
	}
	if brokers != "" {
		loaded.Brokers = strings.Split(brokers, ",")
	}
	if loaded.Topic == "" {
		return ops.Loaded{}, fmt.Errorf("no topic configured; pass -topic or -config")
	}
	if len(loaded.Brokers) == 0 {
		return ops.Loaded{}, fmt.Errorf("no brokers configured; pass -brokers or -config")
	}
	return loaded, nil
}
