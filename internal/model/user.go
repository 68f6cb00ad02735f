// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// User はセッションエンドポイント（/users/@me）が返す認証済みユーザーを表す。
// ローダーの出力に含まれるUserは必ずスキーマ検証を通過している。
type User struct {
	DiscordID     int64
	MinecraftUUID *string
	CreatedAt     *time.Time
	LastUpdated   *time.Time
	IsAdmin       bool
}

// userJSON はバックエンドとのワイヤフォーマット。
// 日時はUNIX秒（null許容）でやり取りする。
type userJSON struct {
	DiscordID     int64   `json:"discord_id"`
	MinecraftUUID *string `json:"minecraft_uuid"`
	CreatedAt     *int64  `json:"created_at"`
	LastUpdated   *int64  `json:"last_updated"`
	IsAdmin       bool    `json:"is_admin"`
}

// MarshalJSON はUserをバックエンドと同じワイヤフォーマットで書き出す。
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(userJSON{
		DiscordID:     u.DiscordID,
		MinecraftUUID: u.MinecraftUUID,
		CreatedAt:     toUnix(u.CreatedAt),
		LastUpdated:   toUnix(u.LastUpdated),
		IsAdmin:       u.IsAdmin,
	})
}

// UnmarshalJSON はワイヤフォーマットからUserを復元する。
// 形の検証は行わない。検証はschemaパッケージの責務。
func (u *User) UnmarshalJSON(data []byte) error {
	var w userJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = User{
		DiscordID:     w.DiscordID,
		MinecraftUUID: w.MinecraftUUID,
		CreatedAt:     fromUnix(w.CreatedAt),
		LastUpdated:   fromUnix(w.LastUpdated),
		IsAdmin:       w.IsAdmin,
	}
	return nil
}

// HasMinecraftAccount はMinecraftアカウントが紐付いているかを返す。
func (u *User) HasMinecraftAccount() bool {
	return u != nil && u.MinecraftUUID != nil && *u.MinecraftUUID != ""
}

// LayoutData はページ描画層に渡すローダーの出力。
// 未認証の場合Userはnil（JSONではnull）となる。
type LayoutData struct {
	User *User `json:"user"`
}

// Authenticated は認証済みユーザーが解決されたかを返す。
func (d LayoutData) Authenticated() bool {
	return d.User != nil
}

func toUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	s := t.Unix()
	return &s
}

func fromUnix(s *int64) *time.Time {
	if s == nil {
		return nil
	}
	t := time.Unix(*s, 0).UTC()
	return &t
}
