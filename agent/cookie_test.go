package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validCookie = "buvid3=abc; SESSDATA=sess%2C123; bili_jct=csrf123; DedeUserID=42"

func TestSplitCookie(t *testing.T) {
	parts := SplitCookie(" a=1;b = 2 ;; broken; c=x=y ;=nokey")
	require.Equal(t, []CookiePart{{"a", "1"}, {"b", "2"}, {"c", "x=y"}}, parts)
	require.Empty(t, SplitCookie(""))

	require.Equal(t, "csrf123", CookieValue(validCookie, CookieCsrf))
	require.Equal(t, "", CookieValue(validCookie, "missing"))
}

func TestCredential(t *testing.T) {
	csrf, sess, err := Credential(validCookie)
	require.NoError(t, err)
	require.Equal(t, "csrf123", csrf)
	require.Equal(t, "sess%2C123", sess)

	_, _, err = Credential("SESSDATA=only")
	require.ErrorIs(t, err, ErrInvalidCookie)
}

func TestCookieStore(t *testing.T) {
	s := NewCookieStore()

	_, err := s.Add("main", "SESSDATA=only")
	require.ErrorIs(t, err, ErrInvalidCookie)

	id, err := s.Add("main", validCookie)
	require.NoError(t, err)
	require.Equal(t, "main", id)
	_, err = s.Add("main", validCookie)
	require.ErrorIs(t, err, ErrCookieExists)

	generated, err := s.Add("", validCookie)
	require.NoError(t, err)
	require.NotEmpty(t, generated)

	got, err := s.Get("main")
	require.NoError(t, err)
	require.Equal(t, validCookie, got)

	info, err := s.Info("main")
	require.NoError(t, err)
	require.True(t, info.HasBiliJct)
	require.True(t, info.HasSessData)
	before := info.UpdatedAt

	require.NoError(t, s.Update("main", "SESSDATA=new; bili_jct=new"))
	info, _ = s.Info("main")
	require.False(t, info.UpdatedAt.Before(before))
	require.ErrorIs(t, s.Update("nope", validCookie), ErrCookieNotFound)
	require.ErrorIs(t, s.Update("main", "bad"), ErrInvalidCookie)

	list := s.List()
	require.Len(t, list, 2)
	require.LessOrEqual(t, list[0].ID, list[1].ID)

	require.NoError(t, s.Delete(generated))
	require.ErrorIs(t, s.Delete(generated), ErrCookieNotFound)
	_, err = s.Get(generated)
	require.ErrorIs(t, err, ErrCookieNotFound)
}

func TestCookieResolve(t *testing.T) {
	s := NewCookieStore()
	_, err := s.Add("stored", validCookie)
	require.NoError(t, err)

	got, err := s.Resolve("stored", "SESSDATA=req", "SESSDATA=global")
	require.NoError(t, err)
	require.Equal(t, validCookie, got)

	_, err = s.Resolve("missing", "SESSDATA=req", "")
	require.ErrorIs(t, err, ErrCookieNotFound)

	got, _ = s.Resolve("", "SESSDATA=req", "SESSDATA=global")
	require.Equal(t, "SESSDATA=req", got)

	got, _ = s.Resolve("", "", "SESSDATA=global")
	require.Equal(t, "SESSDATA=global", got)

	s.SetDefault(" SESSDATA=default ")
	require.Equal(t, "SESSDATA=default", s.Default())
	got, _ = s.Resolve("", "", "SESSDATA=global")
	require.Equal(t, "SESSDATA=default", got)

	s.SetDefault("")
	got, _ = s.Resolve("", "", "")
	require.Empty(t, got)
}

func TestDanmakuForm(t *testing.T) {
	form := danmakuForm(31025025, DanmakuRequest{Message: "hi"})
	require.Equal(t, "31025025", form.RoomID)
	require.Equal(t, "16777215", form.Color)
	require.Equal(t, "25", form.FontSize)
	require.Equal(t, "1", form.Mode)
	require.Equal(t, "0", form.DmType)

	form = danmakuForm(1, DanmakuRequest{Message: "[dog]", Color: 255, FontSize: 18, Mode: 4, IsEmoticon: true})
	require.Equal(t, "255", form.Color)
	require.Equal(t, "18", form.FontSize)
	require.Equal(t, "4", form.Mode)
	require.Equal(t, "1", form.DmType)
}

func TestSendDanmakuValidation(t *testing.T) {
	_, err := SendDanmaku(1, validCookie, DanmakuRequest{Message: "  "})
	require.Error(t, err)
	_, err = SendDanmaku(1, "SESSDATA=only", DanmakuRequest{Message: "hi"})
	require.ErrorIs(t, err, ErrInvalidCookie)
}
