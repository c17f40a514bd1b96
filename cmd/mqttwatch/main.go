package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/hubertat/swboard/mqtt"
	"github.com/hubertat/swboard/telemetry"
)

const clientID = "swboard-watch"

var (
	broker    = flag.String("broker", "mqtt://localhost:1883", "mqtt broker url")
	topic     = flag.String("topic", "swboard/telemetry", "telemetry topic to follow")
	exitTopic = flag.String("exit-topic", "", "when set, publish an exit command there and quit")
)

type telemetryPrinter struct {
	topic string
}

func (tp *telemetryPrinter) MqttSubscribeTopic() string {
	return tp.topic
}

func (tp *telemetryPrinter) MqttHandle(topic string, payload []byte) {
	var snap struct {
		telemetry.Snapshot
		At string `json:"at"`
	}
	err := json.Unmarshal(payload, &snap)
	if err != nil {
		log.Warn("not a telemetry payload", "topic", topic, "err", err)
		return
	}
	log.Info("telemetry", "at", snap.At, "temperature", snap.Temperature, "exit", snap.Exit)
}

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mc, err := mqtt.NewMqttClient(*broker, clientID)
	if err != nil {
		log.Error("failed to create mqtt client", "error", err)
		return
	}

	handlers := []mqtt.Handler{}
	if len(*exitTopic) == 0 {
		handlers = append(handlers, &telemetryPrinter{topic: *topic})
	}
	err = mc.Connect(ctx, handlers)
	if err != nil {
		log.Error("failed to connect", "error", err)
		return
	}
	defer mc.Disconnect(context.Background())

	if len(*exitTopic) > 0 {
		err = mc.Publish(*exitTopic, []byte("exit"))
		if err != nil {
			log.Error("failed to publish exit", "error", err)
		}
		return
	}

	<-ctx.Done()
}
