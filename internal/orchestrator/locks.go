package orchestrator

import "sync"

// keyedLocks 以会话 ID 为键做互斥，序列化同一会话上的查询与审批，
// 使迟到或重复的审批调用被确定性拒绝而不是与查询竞态。
// 锁对象随会话自然增长，量级与会话数一致，不做主动回收。
type keyedLocks struct {
	locks sync.Map
}

func (k *keyedLocks) lock(key string) func() {
	value, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
