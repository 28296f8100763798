package retrieval

import apperrors "finqa-api/pkg/errors"

var (
	// ErrEncoderDisabled 未配置向量编码器
	ErrEncoderDisabled = apperrors.New(apperrors.CodeEmbeddingFailed, "embedding provider is not configured")
)

func indexNotReady(reason string) error {
	return apperrors.ErrIndexNotReady.WithDetail(reason)
}

func dimensionMismatch(want, got int) error {
	return apperrors.Newf(apperrors.CodeInvalidParam, "vector dimension mismatch: want %d, got %d", want, got)
}
