package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil || lifespan <= 0 {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

/* Redis */

func redisKey[T any](id string) string {
	return GetTypeName[T]() + ":" + id
}

// store instance for GetCacheLifespan
func StoreRedis[T any](obj *T, id string) error {
	return config.SetRedisObject(redisKey[T](id), obj, GetCacheLifespan())
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id string) (*T, error) {
	var result *T
	exists, err := config.GetRedisObject(redisKey[T](id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](ids ...string) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, redisKey[T](id))
	}
	return config.RemoveRedisKey(keys...)
}
