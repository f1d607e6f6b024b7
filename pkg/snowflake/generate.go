package snowflake

import (
	"errors"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once

	errInvalidMachineID   = errors.New("invalid snowflake machine id")
	errInvalidDataCenter  = errors.New("invalid snowflake datacenter id")
	errGeneratorUninitial = errors.New("snowflake generator is not initialized")
)

// Init datacenterID 和 machineID 都是 0~31，拼成 10 位 node id。
// 参数非法时不占用 once，修正后可以再次调用
func Init(machineID, dataCenterID int64) error {
	if machineID < 0 || machineID > 31 {
		return errInvalidMachineID
	}
	if dataCenterID < 0 || dataCenterID > 31 {
		return errInvalidDataCenter
	}

	var initErr error
	once.Do(func() {
		nodeID := (dataCenterID << 5) | machineID

		var err error
		node, err = snowflake.NewNode(nodeID)
		if err != nil {
			initErr = err
			return
		}
	})

	return initErr
}

// NextID 开关主键
func NextID() (int64, error) {
	if node == nil {
		return 0, errGeneratorUninitial
	}

	return node.Generate().Int64(), nil
}

// NextMessageID MQ 消息的幂等键
func NextMessageID() (string, error) {
	id, err := NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}
