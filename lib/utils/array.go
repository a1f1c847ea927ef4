package utils

func Contains[T comparable](arr []T, item T) bool {
	for _, i := range arr {
		if i == item {
			return true
		}
	}

	return false
}

func Unique[T comparable](arr []T) []T {
	result := make([]T, 0, len(arr))

	for _, i := range arr {
		if !Contains(result, i) {
			result = append(result, i)
		}
	}

	return result
}
