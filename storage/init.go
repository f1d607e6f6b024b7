package storage

import (
	"DeadManSwitch/storage/database"
	"DeadManSwitch/storage/mq"
	"DeadManSwitch/storage/redis"
)

// Component 一个 main 需要的存储组件
type Component int

const (
	Database Component = 1 << iota
	Redis
	MQ

	All = Database | Redis | MQ
)

// Init 按需初始化存储层，server 不连 MQ 时可以只传 Database|Redis
func Init(components Component) error {
	if components&Database != 0 {
		if err := database.Init(); err != nil {
			return err
		}
	}

	if components&Redis != 0 {
		if err := redis.Init(); err != nil {
			return err
		}
	}

	if components&MQ != 0 {
		if err := mq.Init(); err != nil {
			return err
		}
	}

	return nil
}
