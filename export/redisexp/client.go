// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redisexp

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

// GoRedisClient adapts *goredis.Client (or *goredis.ClusterClient, via the
// shared Cmdable interface) to StreamClient.
type GoRedisClient struct {
	Cmdable goredis.Cmdable
}

// NewGoRedisClient wraps an already-connected go-redis client.
func NewGoRedisClient(c goredis.Cmdable) *GoRedisClient {
	return &GoRedisClient{Cmdable: c}
}

func (g *GoRedisClient) XAdd(ctx context.Context, stream string, values map[string]interface{}) error {
	return g.Cmdable.XAdd(ctx, &goredis.XAddArgs{Stream: stream, Values: values}).Err()
}
