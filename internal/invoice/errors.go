package invoice

import (
	"errors"

	"github.com/zombor/invoice-declare/internal/normalize"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrReasonRequired   = errors.New("reason is required")
	ErrNoPages          = errors.New("at least one page is required")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrSubmitInFlight   = errors.New("a submission is already in progress")
	ErrUploadConflict   = errors.New("upload conflict")
	ErrUploadFailed     = errors.New("upload failed")
	ErrSaveFailed       = errors.New("save failed")
)

// Errors reported by a Table or Bucket.
var (
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("already exists")
	ErrNotFound  = errors.New("not found")
)

// messages are the short user-facing strings shown for known failures.
var messages = []struct {
	err error
	msg string
}{
	{ErrReasonRequired, "請填寫申報原因"},
	{ErrNoPages, "沒有可上傳的頁面"},
	{ErrNotAuthenticated, "請重新整理頁面或重新登入"},
	{ErrSubmitInFlight, "上傳中，請稍候"},
	{ErrUploadConflict, "檔案已存在，請重新上傳"},
	{ErrUploadFailed, "上傳失敗"},
	{ErrSaveFailed, "儲存失敗"},
	{ErrForbidden, "沒有權限執行此操作"},
	{ErrNotFound, "找不到這張發票"},
	{ErrInvalidStatus, "無效的審核狀態"},
	{normalize.ErrUnsupportedType, "不支援的檔案類型"},
	{normalize.ErrDecode, "無法讀取檔案"},
}

// Message turns err into a short message for the user. Unknown errors are
// shown as they are.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}
