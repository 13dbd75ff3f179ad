package nomussync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
)

// pubsubPublisher resolves its topic on first publish so wiring can happen
// before the Pub/Sub client is up.
type pubsubPublisher struct {
	topicName string
	once      sync.Once
	topic     *pubsub.Topic
	initErr   error
}

// NewPubSubPublisher returns a TaskPublisher backed by the sync topic,
// creating the topic on first use when configured to.
func NewPubSubPublisher(opts config.SyncOptions) TaskPublisher {
	return &pubsubPublisher{topicName: opts.TopicName}
}

func (p *pubsubPublisher) resolve(ctx context.Context) (*pubsub.Topic, error) {
	p.once.Do(func() {
		client, err := config.GetClient(ctx)
		if err != nil {
			p.initErr = err
			return
		}
		topic := client.Topic(p.topicName)
		if envBoolDefault("NOMUS_SYNC_CREATE_TOPIC", false) {
			topic, err = config.CreateTopicIfNotExists(client, p.topicName)
			if err != nil {
				p.initErr = err
				return
			}
		}
		p.topic = topic
	})
	return p.topic, p.initErr
}

func (p *pubsubPublisher) Publish(ctx context.Context, payload SyncTaskPayload) error {
	topic, err := p.resolve(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// StartTaskSubscriber pulls sync tasks and hands them to the worker.
// MaxOutstandingMessages is the tenant concurrency ceiling: at most that many
// tenants sync at once per replica. Blocks until ctx is done.
func StartTaskSubscriber(ctx context.Context, worker *TenantSyncWorker, opts config.SyncOptions) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	sub := client.Subscription(opts.SubscriptionName)
	if envBoolDefault("NOMUS_SYNC_CREATE_SUBSCRIPTION", false) {
		topic, err := config.CreateTopicIfNotExists(client, opts.TopicName)
		if err != nil {
			return err
		}
		sub, err = config.CreateSubscriptionIfNotExists(client, opts.SubscriptionName, topic)
		if err != nil {
			return err
		}
	}
	sub.ReceiveSettings.MaxOutstandingMessages = opts.MaxConcurrentTenants

	logger := config.GetLogger()
	return sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var payload SyncTaskPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.Warn("sync task decode failed, dropped: " + err.Error())
			msg.Ack()
			return
		}
		if err := worker.Handle(msgCtx, payload); err != nil {
			logger.WithFields(logrus.Fields{
				"tenant_group_id": payload.TenantGroupId,
			}).Error("sync task failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// PubSubPushHandler is the push-delivery alternative to the pull subscriber.
// Always answers 204 so Pub/Sub never redelivers a malformed message.
func PubSubPushHandler(worker *TenantSyncWorker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_NOMUS_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncTaskPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.TenantGroupId == 0 {
			c.Status(204)
			return
		}

		_ = worker.Handle(c.Request.Context(), payload)
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
