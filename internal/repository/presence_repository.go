package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresenceChannel carries doctor status transitions for other services.
	PresenceChannel = "presence:doctors"
)

var ErrRedisUnavailable = errors.New("redis client not initialized")

// PresenceRepository mirrors doctor presence transitions into redis so that
// services outside this process can read them.
type PresenceRepository interface {
	SetDoctorStatus(ctx context.Context, doctorID string, online bool) error
}

type presenceRepository struct {
	client *redis.Client
}

func NewPresenceRepository(client *redis.Client) PresenceRepository {
	return &presenceRepository{client: client}
}

func presenceKey(doctorID string) string {
	return fmt.Sprintf("presence:doctor:%s", doctorID)
}

func (r *presenceRepository) SetDoctorStatus(ctx context.Context, doctorID string, online bool) error {
	if r.client == nil {
		return ErrRedisUnavailable
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":     "DOCTOR_STATUS",
		"doctorId": doctorID,
		"isOnline": online,
		"at":       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if online {
			pipe.Set(ctx, presenceKey(doctorID), "ONLINE", 0)
		} else {
			pipe.Del(ctx, presenceKey(doctorID))
		}
		pipe.Publish(ctx, PresenceChannel, payload)
		return nil
	})
	return err
}
