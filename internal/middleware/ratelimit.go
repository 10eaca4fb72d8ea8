package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	rediskey "totem_pos/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaRateLimit is an atomic sliding-window limiter.
// KEYS[1]=limit key, ARGV[1]=now, ARGV[2]=window start, ARGV[3]=window sec,
// ARGV[4]=member, ARGV[5]=limit. Returns the in-window count, or -1 when over.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// ReserveRateLimit throttles the reservation endpoint per cart. A totem UI
// mutates and renews holds continuously; this caps a runaway client before it
// touches the store. Falls back to IP keying when no cart id is readable, and
// fails open when redis is down.
func ReserveRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		cartID := extractCartID(c)

		var key string
		if cartID != "" {
			key = rediskey.ReserveRateLimitCartKey(cartID)
		} else {
			key = rediskey.ReserveRateLimitIPKey(c.ClientIP())
		}

		now := time.Now().UnixNano()
		windowSec := int64(window.Seconds())
		windowStart := now - window.Nanoseconds()

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now, windowStart, windowSec, limitMember(now), limit).Int()
		if err != nil {
			// redis down: let the request through, sqlite still serializes writes
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// limitMember builds the ZSET member for one request. The uuid suffix keeps
// two requests landing on the same nanosecond from collapsing into one entry.
func limitMember(now int64) string {
	return fmt.Sprintf("%d-%s", now, uuid.NewString())
}

// extractCartID peeks cart_id out of the JSON body without consuming it.
func extractCartID(c *gin.Context) string {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req struct {
		CartID string `json:"cart_id"`
	}
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		return ""
	}
	return req.CartID
}
