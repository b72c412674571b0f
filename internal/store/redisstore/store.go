// Package redisstore implements store.Store on Redis. Every transition that
// reads before it writes runs as a Lua script so it is atomic across server
// processes.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/domain"
	"github.com/campuscrush/realtime/internal/keylock"
	"github.com/campuscrush/realtime/internal/store"
)

const (
	UserPrefix      = "user:"
	MatchPrefix     = "match:"
	ChatPrefix      = "chat:"
	PoolEntryPrefix = "pool:entry:"
	PoolQueueKey    = "pool:queue" // scored by joined_at
	PoolSeenKey     = "pool:seen"  // scored by seen_at
)

// Key builders.
func userKey(id string) string { return UserPrefix + id }
func userMatchesKey(id string) string { return UserPrefix + id + ":matches" }
func matchKey(pair string) string { return MatchPrefix + pair }
func chatKey(id string) string { return ChatPrefix + id }
func guessesKey(chatID string) string { return ChatPrefix + chatID + ":guesses" }
func poolEntryKey(id string) string { return PoolEntryPrefix + id }

// userRecord is the user:<id> hash.
type userRecord struct {
	Gender      string `redis:"gender"`
	DisplayName string `redis:"display_name"`
	RealName    string `redis:"real_name"`
}

// Store manages core state in Redis.
type Store struct {
	rdb          *redis.Client
	likeScript   *redis.Script
	guessScript  *redis.Script
	revealScript *redis.Script
	joinScript   *redis.Script
	touchScript  *redis.Script
	claimScript  *redis.Script
}

var _ store.Store = (*Store)(nil)

// New creates a Store backed by rdb.
func New(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		likeScript:   redis.NewScript(likeLua),
		guessScript:  redis.NewScript(guessLua),
		revealScript: redis.NewScript(revealLua),
		joinScript:   redis.NewScript(joinPoolLua),
		touchScript:  redis.NewScript(touchPoolLua),
		claimScript:  redis.NewScript(claimPairLua),
	}
}

// Connect dials Redis at addr and verifies the connection.
func Connect(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: redis connection failed: %w", err)
	}
	return client, nil
}

// Client exposes the underlying Redis client for collaborators that share it
// (e.g. the connect rate limiter).
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	res := s.rdb.HGetAll(ctx, userKey(userID))
	if err := res.Err(); err != nil {
		return nil, apperr.Transient("get user", err)
	}
	if len(res.Val()) == 0 {
		return nil, nil
	}
	var rec userRecord
	if err := res.Scan(&rec); err != nil {
		return nil, fmt.Errorf("redisstore: scan user %s: %w", userID, err)
	}
	return &domain.User{
		ID:          userID,
		Gender:      domain.Gender(rec.Gender),
		DisplayName: rec.DisplayName,
		RealName:    rec.RealName,
	}, nil
}

func (s *Store) PutUser(ctx context.Context, u *domain.User) error {
	err := s.rdb.HSet(ctx, userKey(u.ID), userRecord{
		Gender:      string(u.Gender),
		DisplayName: u.DisplayName,
		RealName:    u.RealName,
	}).Err()
	if err != nil {
		return apperr.Transient("put user", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Matches
// ---------------------------------------------------------------------------

func (s *Store) ApplyLike(ctx context.Context, req store.LikeRequest) (store.LikeResult, error) {
	pair := keylock.PairKey(req.Actor.ID, req.Target.ID)
	participants, err := json.Marshal([]string{req.Target.ID, req.Actor.ID})
	if err != nil {
		return store.LikeResult{}, fmt.Errorf("redisstore: encode participants: %w", err)
	}

	keys := []string{
		matchKey(pair),
		chatKey(req.ChatID),
		userMatchesKey(req.Actor.ID),
		userMatchesKey(req.Target.ID),
	}
	raw, err := s.likeScript.Run(ctx, s.rdb, keys,
		req.Actor.ID, req.Target.ID,
		req.Actor.DisplayName, req.Target.DisplayName,
		req.MatchID, req.ChatID,
		req.Now.UnixMilli(), string(participants), pair,
	).Slice()
	if err != nil {
		return store.LikeResult{}, apperr.Transient("apply like", err)
	}
	if len(raw) == 0 {
		return store.LikeResult{}, fmt.Errorf("redisstore: apply like: empty script reply")
	}

	code, _ := raw[0].(int64)
	match := matchFromFields(pairsToMap(raw[1:]))
	res := store.LikeResult{Outcome: store.LikeOutcome(code), Match: match}
	if res.Outcome == store.LikeMatched {
		res.Chat = &domain.Chat{
			ID:           req.ChatID,
			Participants: []string{req.Target.ID, req.Actor.ID},
			MatchID:      match.ID,
			CreatedAt:    time.UnixMilli(req.Now.UnixMilli()),
		}
	}
	return res, nil
}

func (s *Store) GetMatch(ctx context.Context, userA, userB string) (*domain.Match, error) {
	fields, err := s.rdb.HGetAll(ctx, matchKey(keylock.PairKey(userA, userB))).Result()
	if err != nil {
		return nil, apperr.Transient("get match", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return matchFromFields(fields), nil
}

func (s *Store) ListMatches(ctx context.Context, userID string) ([]*domain.Match, error) {
	pairs, err := s.rdb.ZRevRange(ctx, userMatchesKey(userID), 0, -1).Result()
	if err != nil {
		return nil, apperr.Transient("list matches", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(pairs))
	for i, pair := range pairs {
		cmds[i] = pipe.HGetAll(ctx, matchKey(pair))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Transient("list matches", err)
	}

	out := make([]*domain.Match, 0, len(cmds))
	for _, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			out = append(out, matchFromFields(fields))
		}
	}
	return out, nil
}

func matchFromFields(f map[string]string) *domain.Match {
	m := &domain.Match{
		ID:        f["id"],
		User1ID:   f["user1"],
		User2ID:   f["user2"],
		User1Name: f["user1_name"],
		User2Name: f["user2_name"],
		Status:    domain.MatchStatus(f["status"]),
		ChatID:    f["chat_id"],
		CreatedAt: parseMillis(f["created_at"]),
	}
	if v := f["matched_at"]; v != "" {
		t := parseMillis(v)
		m.MatchedAt = &t
	}
	return m
}

// ---------------------------------------------------------------------------
// Chats and guesses
// ---------------------------------------------------------------------------

func (s *Store) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	fields, err := s.rdb.HGetAll(ctx, chatKey(chatID)).Result()
	if err != nil {
		return nil, apperr.Transient("get chat", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	c := &domain.Chat{
		ID:        chatID,
		Revealed:  fields["revealed"] == "1",
		MatchID:   fields["match_id"],
		CreatedAt: parseMillis(fields["created_at"]),
	}
	if err := json.Unmarshal([]byte(fields["participants"]), &c.Participants); err != nil {
		return nil, fmt.Errorf("redisstore: decode participants of chat %s: %w", chatID, err)
	}
	if v := fields["revealed_at"]; v != "" {
		t := parseMillis(v)
		c.RevealedAt = &t
	}
	return c, nil
}

func (s *Store) PutChat(ctx context.Context, c *domain.Chat) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("redisstore: encode participants: %w", err)
	}
	revealed := "0"
	if c.Revealed {
		revealed = "1"
	}
	err = s.rdb.HSet(ctx, chatKey(c.ID),
		"participants", string(participants),
		"revealed", revealed,
		"match_id", c.MatchID,
		"created_at", c.CreatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return apperr.Transient("put chat", err)
	}
	return nil
}

func (s *Store) RecordGuess(ctx context.Context, chatID, userID, guess string) (store.GuessResult, error) {
	raw, err := s.guessScript.Run(ctx, s.rdb,
		[]string{chatKey(chatID), guessesKey(chatID)}, userID, guess).Slice()
	if err != nil {
		return store.GuessResult{}, apperr.Transient("record guess", err)
	}
	code, _ := raw[0].(int64)
	if code < 0 {
		return store.GuessResult{}, nil
	}

	// Participants never change after creation, so reading the chat after
	// the script is safe; the revealed flag comes from the script reply.
	chat, err := s.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return store.GuessResult{}, err
	}
	chat.Revealed = code == 1
	return store.GuessResult{Chat: chat, Guesses: pairsToMap(raw[1:])}, nil
}

func (s *Store) Guesses(ctx context.Context, chatID string) (map[string]string, error) {
	g, err := s.rdb.HGetAll(ctx, guessesKey(chatID)).Result()
	if err != nil {
		return nil, apperr.Transient("get guesses", err)
	}
	return g, nil
}

func (s *Store) MarkRevealed(ctx context.Context, chatID string, expect map[string]string, at time.Time) (bool, error) {
	args := make([]interface{}, 0, 1+2*len(expect))
	args = append(args, at.UnixMilli())
	for userID, guess := range expect {
		args = append(args, userID, guess)
	}
	n, err := s.revealScript.Run(ctx, s.rdb, []string{chatKey(chatID), guessesKey(chatID)}, args...).Int()
	if err != nil {
		return false, apperr.Transient("mark revealed", err)
	}
	return n == 1, nil
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

func (s *Store) JoinPool(ctx context.Context, e domain.PoolEntry) (*domain.PoolEntry, error) {
	if e.LastSeen.IsZero() {
		e.LastSeen = e.JoinedAt
	}
	joined, err := s.joinScript.Run(ctx, s.rdb,
		[]string{poolEntryKey(e.UserID), PoolQueueKey, PoolSeenKey},
		e.UserID, e.Mood, e.Note, e.JoinedAt.UnixMilli(), e.LastSeen.UnixMilli(),
	).Text()
	if err != nil {
		return nil, apperr.Transient("join pool", err)
	}
	e.JoinedAt = parseMillis(joined)
	e.LastSeen = time.UnixMilli(e.LastSeen.UnixMilli())
	return &e, nil
}

func (s *Store) TouchPool(ctx context.Context, userID string, at time.Time) (bool, error) {
	n, err := s.touchScript.Run(ctx, s.rdb,
		[]string{poolEntryKey(userID), PoolSeenKey},
		userID, at.UnixMilli(),
	).Int()
	if err != nil {
		return false, apperr.Transient("touch pool", err)
	}
	return n == 1, nil
}

func (s *Store) LeavePool(ctx context.Context, userID string) (bool, error) {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, poolEntryKey(userID))
	pipe.ZRem(ctx, PoolQueueKey, userID)
	pipe.ZRem(ctx, PoolSeenKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, apperr.Transient("leave pool", err)
	}
	return del.Val() > 0, nil
}

func (s *Store) GetPoolEntry(ctx context.Context, userID string) (*domain.PoolEntry, error) {
	fields, err := s.rdb.HGetAll(ctx, poolEntryKey(userID)).Result()
	if err != nil {
		return nil, apperr.Transient("get pool entry", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return poolEntryFromFields(userID, fields), nil
}

func (s *Store) ListPool(ctx context.Context) ([]domain.PoolEntry, error) {
	ids, err := s.rdb.ZRange(ctx, PoolQueueKey, 0, -1).Result()
	if err != nil {
		return nil, apperr.Transient("list pool", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, poolEntryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Transient("list pool", err)
	}

	out := make([]domain.PoolEntry, 0, len(ids))
	for i, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			out = append(out, *poolEntryFromFields(ids[i], fields))
		}
	}
	store.SortPool(out)
	return out, nil
}

func (s *Store) ClaimPair(ctx context.Context, userA, userB string, chat *domain.Chat) (bool, error) {
	participants, err := json.Marshal(chat.Participants)
	if err != nil {
		return false, fmt.Errorf("redisstore: encode participants: %w", err)
	}
	n, err := s.claimScript.Run(ctx, s.rdb,
		[]string{poolEntryKey(userA), poolEntryKey(userB), PoolQueueKey, chatKey(chat.ID), PoolSeenKey},
		userA, userB, string(participants), chat.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, apperr.Transient("claim pair", err)
	}
	return n == 1, nil
}

func (s *Store) PrunePool(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, PoolSeenKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, apperr.Transient("prune pool", err)
	}

	var removed []string
	for _, id := range ids {
		ok, err := s.LeavePool(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func poolEntryFromFields(userID string, f map[string]string) *domain.PoolEntry {
	return &domain.PoolEntry{
		UserID:   userID,
		Mood:     f["mood"],
		Note:     f["note"],
		JoinedAt: parseMillis(f["joined_at"]),
		LastSeen: parseMillis(f["seen_at"]),
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func parseMillis(v string) time.Time {
	ms, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(ms)
}

// pairsToMap converts a flat HGETALL reply from a script into a map.
func pairsToMap(flat []interface{}) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		out[k] = v
	}
	return out
}
