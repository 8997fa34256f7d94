package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/model"
)

const rotationCursorKey = "outreach:rotation:cursor"

// Pool hands out rotation nodes round-robin. The cursor lives in Redis so
// every worker process shares one rotation position.
type Pool struct {
	rdb *redis.Client
}

func NewPool(rdb *redis.Client) *Pool {
	return &Pool{rdb: rdb}
}

// Next picks the next node from the active set. Node order is stable
// (creation order) so INCR modulo the pool size walks the pool evenly.
func (p *Pool) Next(ctx context.Context, nodes []model.RotationNode) (*model.EmailAccount, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("rotation pool is empty")
	}
	cursor, err := p.rdb.Incr(ctx, rotationCursorKey).Result()
	if err != nil {
		return nil, fmt.Errorf("advance rotation cursor: %w", err)
	}
	node := nodes[int(cursor)%len(nodes)]
	return node.Account(), nil
}
