package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geobank/branches-backend/internal/cache"
)

const (
	// Префикс ключей токенов в Redis
	tokenKeyPrefix = "geobank:auth:token:"

	// Емкость локального уровня. Токенов на инстанс немного, уровень
	// нужен, чтобы не ходить в Redis на каждый запрос одной сессии.
	localCapacity = 4096
)

// RedisClient интерфейс для Redis клиента
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// Cache хранит результаты проверки токенов: локальный LRU уровень
// перед Redis. Локальная запись живет не дольше записи в Redis,
// поэтому отозванный токен исчезает с обоих уровней по одному TTL.
type Cache struct {
	client RedisClient
	local  *cache.LocalCache
	ttl    time.Duration
}

// NewCache создает новый экземпляр кеша аутентификации
func NewCache(client RedisClient, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		local:  cache.NewLocalCache(localCapacity, ttl, 0),
		ttl:    ttl,
	}
}

// GetUser получает пользователя из кеша по токену. Сначала
// опрашивается локальный уровень, Redis только при промахе; ответ
// Redis подогревает локальный уровень.
func (c *Cache) GetUser(ctx context.Context, token string) (*User, error) {
	key := c.tokenKey(token)

	if data, ok := c.local.Get(key); ok {
		user, err := UserFromJSON(data)
		if err != nil {
			// Битая локальная запись не должна блокировать сессию
			c.local.Delete(key)
		} else {
			return user, nil
		}
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil // Токен не проверялся или запись истекла
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user from cache: %w", err)
	}

	user, err := UserFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize user: %w", err)
	}

	c.local.Set(key, data, c.ttl)
	return user, nil
}

// SetUser сохраняет пользователя на обоих уровнях кеша. При ошибке
// Redis локальный уровень не заполняется: запись, которую не видят
// остальные инстансы, хуже повторной проверки токена.
func (c *Cache) SetUser(ctx context.Context, token string, user *User) error {
	key := c.tokenKey(token)
	data, err := user.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize user: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set user in cache: %w", err)
	}

	c.local.Set(key, data, c.ttl)
	return nil
}

// DeleteUser удаляет пользователя с обоих уровней (при logout или
// досрочном истечении сессии)
func (c *Cache) DeleteUser(ctx context.Context, token string) error {
	key := c.tokenKey(token)
	c.local.Delete(key)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete user from cache: %w", err)
	}
	return nil
}

// tokenKey генерирует ключ кеша для токена
func (c *Cache) tokenKey(token string) string {
	// Хешируем токен для безопасности и ограничения длины ключа
	hash := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s%x", tokenKeyPrefix, hash[:16])
}

// ClearAll очищает весь кеш аутентификации (для тестирования)
func (c *Cache) ClearAll(ctx context.Context) error {
	c.local.Clear()

	keys, err := c.client.Keys(ctx, tokenKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to get cache keys: %w", err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	return nil
}
