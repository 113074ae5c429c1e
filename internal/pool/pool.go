package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"humanoid/internal/model/credential"
	"humanoid/internal/pkg/id"
)

var (
	// ErrExhausted 没有任何活跃 token 有空余容量
	ErrExhausted = errors.New("credential pool exhausted")
	// ErrTokenNotFound 未知的 token id
	ErrTokenNotFound = errors.New("token not found")
)

// Lease 一次成功分配的结果
type Lease struct {
	TokenID      string
	Secret       string
	AssignmentID string
}

// Store 分配记录的写穿透持久化
// 写入发生在池的临界区内，保证存储与内存视图一致
type Store interface {
	InsertAssignment(ctx context.Context, a *credential.Assignment) error
	ReleaseAssignment(ctx context.Context, assignmentID string, releasedAt time.Time) error
	TouchAssignment(ctx context.Context, assignmentID string, usedAt time.Time) error
}

// tokenState token 及其当前活跃分配数
type tokenState struct {
	token   *credential.Token
	holders int
}

// Pool 凭证池分配器
//
// 所有读取计数再写入的序列都在同一把互斥锁内完成，
// 两个并发 Acquire 不可能同时观察到空余容量并都提交越过容量C。
// 池是部署内唯一权威实例，内存状态启动时从存储加载。
type Pool struct {
	mu sync.Mutex

	store           Store // 可为 nil（测试）
	defaultCapacity int

	tokens        map[string]*tokenState
	bySession     map[string]*credential.Assignment // 仅活跃分配
	cooldownUntil map[string]time.Time
}

// Stats 池的聚合统计
type Stats struct {
	Total             int `json:"total"`
	Active            int `json:"active"`
	Inactive          int `json:"inactive"`
	ActiveAssignments int `json:"active_assignments"`
}

// New 创建凭证池
func New(store Store, defaultCapacity int) *Pool {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}
	return &Pool{
		store:           store,
		defaultCapacity: defaultCapacity,
		tokens:          make(map[string]*tokenState),
		bySession:       make(map[string]*credential.Assignment),
		cooldownUntil:   make(map[string]time.Time),
	}
}

// Load 从存储快照恢复内存状态（启动时调用一次）
// assignments 只应包含活跃分配
func (p *Pool) Load(tokens []*credential.Token, assignments []*credential.Assignment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range tokens {
		p.tokens[t.ID] = &tokenState{token: t}
	}
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		p.bySession[a.SessionID] = a
		if ts, ok := p.tokens[a.TokenID]; ok {
			ts.holders++
		}
	}

	log.Info().
		Int("tokens", len(tokens)).
		Int("active_assignments", len(p.bySession)).
		Msg("credential pool loaded")
}

// Acquire 为会话分配一个 token
//
// 会话已持有活跃分配时直接复用（粘性分配，保持供应商侧的会话连续性）。
// 否则选择活跃分配数最少的可用 token（同数取 id 最小的，保证确定性），
// 且仅当其活跃分配数严格小于容量C时成功。无可用容量返回 ErrExhausted。
func (p *Pool) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 粘性复用
	if a, ok := p.bySession[sessionID]; ok {
		ts := p.tokens[a.TokenID]
		switch {
		case ts == nil:
			// token 已被删除，分配失效，走新选择
			delete(p.bySession, sessionID)
		case p.coolingLocked(a.TokenID):
			// 粘着的 token 正在冷却，复用只会撞上同一个坏凭证，
			// 释放旧分配后走新选择
			if err := p.releaseLocked(ctx, sessionID); err != nil {
				return nil, err
			}
		default:
			a.LastUsedAt = time.Now()
			if p.store != nil {
				if err := p.store.TouchAssignment(ctx, a.ID, a.LastUsedAt); err != nil {
					log.Warn().Err(err).Str("assignment_id", a.ID).Msg("failed to touch assignment")
				}
			}
			return &Lease{TokenID: a.TokenID, Secret: ts.token.Secret, AssignmentID: a.ID}, nil
		}
	}

	selected := p.selectLocked()
	if selected == nil {
		return nil, ErrExhausted
	}

	now := time.Now()
	assignment := &credential.Assignment{
		ID:         id.New(),
		TokenID:    selected.token.ID,
		SessionID:  sessionID,
		AssignedAt: now,
		Active:     true,
		LastUsedAt: now,
	}

	if p.store != nil {
		if err := p.store.InsertAssignment(ctx, assignment); err != nil {
			return nil, err
		}
	}

	p.bySession[sessionID] = assignment
	selected.holders++

	return &Lease{
		TokenID:      selected.token.ID,
		Secret:       selected.token.Secret,
		AssignmentID: assignment.ID,
	}, nil
}

// coolingLocked token 是否处于冷却期；调用方必须持有锁
func (p *Pool) coolingLocked(tokenID string) bool {
	until, ok := p.cooldownUntil[tokenID]
	return ok && time.Now().Before(until)
}

// selectLocked 最少负载选择；调用方必须持有锁
func (p *Pool) selectLocked() *tokenState {
	candidates := make([]*tokenState, 0, len(p.tokens))
	for _, ts := range p.tokens {
		if !ts.token.Active {
			continue
		}
		if p.coolingLocked(ts.token.ID) {
			continue
		}
		if ts.holders >= p.capacityOf(ts.token) {
			continue
		}
		candidates = append(candidates, ts)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].holders != candidates[j].holders {
			return candidates[i].holders < candidates[j].holders
		}
		return candidates[i].token.ID < candidates[j].token.ID
	})
	return candidates[0]
}

// Release 释放会话的活跃分配，幂等：没有活跃分配时是空操作
func (p *Pool) Release(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(ctx, sessionID)
}

// releaseLocked 调用方必须持有锁
func (p *Pool) releaseLocked(ctx context.Context, sessionID string) error {
	a, ok := p.bySession[sessionID]
	if !ok {
		return nil
	}

	now := time.Now()
	a.Active = false
	a.ReleasedAt = &now

	if p.store != nil {
		if err := p.store.ReleaseAssignment(ctx, a.ID, now); err != nil {
			// 回滚内存状态，保持与存储一致
			a.Active = true
			a.ReleasedAt = nil
			return err
		}
	}

	delete(p.bySession, sessionID)
	if ts, ok := p.tokens[a.TokenID]; ok && ts.holders > 0 {
		ts.holders--
	}
	return nil
}

// MarkUnavailable 将 token 临时移出选择范围，不永久停用
// 调用方在供应商侧限流/鉴权失败后调用
func (p *Pool) MarkUnavailable(tokenID string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tokens[tokenID]; !ok {
		return
	}
	p.cooldownUntil[tokenID] = time.Now().Add(d)

	log.Warn().
		Str("token_id", tokenID).
		Dur("cooldown", d).
		Msg("token marked unavailable")
}

// Stats 聚合统计
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.tokens), ActiveAssignments: len(p.bySession)}
	for _, ts := range p.tokens {
		if ts.token.Active {
			s.Active++
		} else {
			s.Inactive++
		}
	}
	return s
}

// AddToken 将新凭证加入池（管理操作，先持久化后调用）
func (p *Pool) AddToken(t *credential.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[t.ID] = &tokenState{token: t}
}

// SetTokenActive 激活/停用凭证
// 停用的 token 不再接受新分配，已有分配自然流尽
func (p *Pool) SetTokenActive(tokenID string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.tokens[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	ts.token.Active = active
	return nil
}

// RemoveToken 从池中移除凭证并释放其全部活跃分配
// 返回被移除的 token（用于上层清理模型缓存）
func (p *Pool) RemoveToken(ctx context.Context, tokenID string) (*credential.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.tokens[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}

	for sessionID, a := range p.bySession {
		if a.TokenID != tokenID {
			continue
		}
		if err := p.releaseLocked(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	delete(p.tokens, tokenID)
	delete(p.cooldownUntil, tokenID)
	return ts.token, nil
}

// Sweep 回收超过 ttl 未使用的活跃分配，返回回收数量
func (p *Pool) Sweep(ctx context.Context, ttl time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	var stale []string
	for sessionID, a := range p.bySession {
		if a.LastUsedAt.Before(cutoff) || a.LastUsedAt.Equal(cutoff) {
			stale = append(stale, sessionID)
		}
	}

	reclaimed := 0
	for _, sessionID := range stale {
		if err := p.releaseLocked(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to reclaim stale assignment")
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		log.Info().Int("reclaimed", reclaimed).Msg("stale assignments reclaimed")
	}
	return reclaimed
}

// StartSweeper 启动后台回收协程，ctx 取消后退出
func (p *Pool) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Sweep(ctx, ttl)
			}
		}
	}()
}

// capacityOf token 的并发容量，未设置时取池默认值
func (p *Pool) capacityOf(t *credential.Token) int {
	if t.Capacity > 0 {
		return t.Capacity
	}
	return p.defaultCapacity
}
